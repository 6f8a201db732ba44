package main

import (
	"net/http"

	"github.com/avaropoint/authcore/internal/protocol"
	"github.com/avaropoint/authcore/internal/security"
	"github.com/avaropoint/authcore/internal/store"
	"github.com/avaropoint/authcore/internal/version"
)

// handleListKeys returns every published verifying key. Services that
// check tokens offline fetch the active key from here.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListVerifyingKeys(r.Context())
	if err != nil {
		s.logger.Error("listing verifying keys failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}
	if keys == nil {
		keys = []*store.VerifyingKey{}
	}
	writeJSON(w, http.StatusOK, protocol.KeysResponse{
		Active: s.identity.Fingerprint(),
		Keys:   keys,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.VersionResponse{Version: version.Info()})
}

// handleCACert serves the self-signed CA so clients can pin it.
func (s *Server) handleCACert(w http.ResponseWriter, _ *http.Request) {
	if s.tlsPaths == nil {
		writeError(w, http.StatusNotFound, "no self-signed CA in use")
		return
	}
	data, err := security.ReadCACert(s.tlsPaths)
	if err != nil {
		s.logger.Error("reading CA cert failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read CA")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(data) //nolint:errcheck
}
