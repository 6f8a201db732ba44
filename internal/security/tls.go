package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/acme/autocert"
)

// TLSMode describes how the server terminates TLS. Bearer tokens are
// replayable by anyone who sees them, so TLSModeOff is for local
// development only.
type TLSMode int

const (
	// TLSModeOff disables TLS entirely.
	TLSModeOff TLSMode = iota
	// TLSModeSelfSigned uses an auto-generated CA and server certificate.
	TLSModeSelfSigned
	// TLSModeACME uses Let's Encrypt automatic certificate management.
	TLSModeACME
	// TLSModeCustom uses operator-provided certificate and key files.
	TLSModeCustom
)

// ParseTLSMode maps a config value to a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch s {
	case "", "off":
		return TLSModeOff, nil
	case "self-signed":
		return TLSModeSelfSigned, nil
	case "acme":
		return TLSModeACME, nil
	case "custom":
		return TLSModeCustom, nil
	default:
		return TLSModeOff, fmt.Errorf("unknown TLS mode %q", s)
	}
}

func (m TLSMode) String() string {
	switch m {
	case TLSModeSelfSigned:
		return "self-signed"
	case TLSModeACME:
		return "acme"
	case TLSModeCustom:
		return "custom"
	default:
		return "off"
	}
}

// TLSOptions carries the mode-specific inputs for SetupTLS.
type TLSOptions struct {
	Mode     TLSMode
	DataDir  string   // self-signed material and the ACME cache live here
	Domains  []string // ACME host whitelist; extra SANs for self-signed
	CertFile string   // custom mode
	KeyFile  string   // custom mode
}

// TLSPaths holds the paths of generated self-signed material.
type TLSPaths struct {
	CACertPath string
	CertPath   string
	KeyPath    string
}

// TLSResult is the outcome of SetupTLS. Config is nil in TLSModeOff.
type TLSResult struct {
	Config      *tls.Config
	Paths       *TLSPaths         // self-signed mode only
	ACMEManager *autocert.Manager // ACME mode only; serve its HTTPHandler on :80
	Mode        TLSMode
}

// SetupTLS prepares the server TLS configuration for opts.Mode. Every
// mode that produces a config pins the minimum version to TLS 1.3.
func SetupTLS(opts TLSOptions) (*TLSResult, error) {
	result := &TLSResult{Mode: opts.Mode}

	switch opts.Mode {
	case TLSModeOff:
		return result, nil

	case TLSModeSelfSigned:
		cfg, paths, err := loadOrGenerateSelfSigned(opts.DataDir, opts.Domains)
		if err != nil {
			return nil, err
		}
		result.Config, result.Paths = cfg, paths

	case TLSModeACME:
		if len(opts.Domains) == 0 {
			return nil, fmt.Errorf("acme mode requires at least one domain")
		}
		result.ACMEManager, result.Config = newACMEManager(opts.DataDir, opts.Domains)

	case TLSModeCustom:
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load custom TLS keypair: %w", err)
		}
		result.Config = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
		}

	default:
		return nil, fmt.Errorf("unsupported TLS mode %d", opts.Mode)
	}
	return result, nil
}

// ReadCACert returns the PEM-encoded self-signed CA certificate, for
// clients that need to pin it.
func ReadCACert(paths *TLSPaths) ([]byte, error) {
	return os.ReadFile(paths.CACertPath)
}

func loadOrGenerateSelfSigned(dataDir string, extraHosts []string) (*tls.Config, *TLSPaths, error) {
	paths := &TLSPaths{
		CACertPath: filepath.Join(dataDir, "ca.crt"),
		CertPath:   filepath.Join(dataDir, "server.crt"),
		KeyPath:    filepath.Join(dataDir, "server.key"),
	}

	if !fileExists(paths.CACertPath) || !fileExists(paths.CertPath) || !fileExists(paths.KeyPath) {
		if err := generateCerts(paths, extraHosts); err != nil {
			return nil, nil, fmt.Errorf("generate TLS certs: %w", err)
		}
	}

	cert, err := tls.LoadX509KeyPair(paths.CertPath, paths.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load TLS keypair: %w", err)
	}

	caCertPEM, err := os.ReadFile(paths.CACertPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	caPool.AppendCertsFromPEM(caCertPEM)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS13,
	}, paths, nil
}

// newACMEManager creates a Let's Encrypt autocert manager for domains.
// Certificates are cached in dataDir/acme-certs.
func newACMEManager(dataDir string, domains []string) (*autocert.Manager, *tls.Config) {
	cacheDir := filepath.Join(dataDir, "acme-certs")
	_ = os.MkdirAll(cacheDir, 0700)

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	tlsCfg := manager.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS13
	return manager, tlsCfg
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
