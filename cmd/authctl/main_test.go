package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/authcore/internal/protocol"
	"github.com/avaropoint/authcore/internal/security"
	"github.com/avaropoint/authcore/internal/store"
)

// runCLI runs authctl with args and stdin, returning exit code, stdout and stderr.
func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// keyValues parses key=value lines.
func keyValues(out string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			m[k] = v
		}
	}
	return m
}

func TestUsage(t *testing.T) {
	code, _, stderr := runCLI(t, "")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "verify-password")

	code, _, _ = runCLI(t, "", "--help")
	assert.Equal(t, exitOK, code)

	code, _, stderr = runCLI(t, "", "frobnicate")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestKeygenSignVerify(t *testing.T) {
	code, out, _ := runCLI(t, "", "keygen")
	require.Equal(t, exitOK, code)
	keys := keyValues(out)
	require.Len(t, keys["public_key"], 64)
	require.Len(t, keys["private_key"], 128)

	code, token, stderr := runCLI(t, `{"sub": "alice", "n": 1}`, "sign", "--key", keys["private_key"])
	require.Equal(t, exitOK, code, stderr)
	token = strings.TrimSpace(token)
	assert.True(t, strings.HasPrefix(token, security.TokenHeader))

	code, claims, stderr := runCLI(t, "", "verify", "--key", keys["public_key"], token)
	require.Equal(t, exitOK, code, stderr)
	assert.JSONEq(t, `{"sub":"alice","n":1}`, claims)

	other, _, err := security.GenerateKeypair()
	require.NoError(t, err)
	code, _, stderr = runCLI(t, "", "verify", "--key", other, token)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "crypto")
}

func TestSignWithKeyFiles(t *testing.T) {
	dir := t.TempDir()
	code, out, stderr := runCLI(t, "", "keygen", "--data-dir", dir)
	require.Equal(t, exitOK, code, stderr)
	fingerprint := keyValues(out)["fingerprint"]
	assert.Len(t, fingerprint, 64)

	claimsPath := filepath.Join(dir, "claims.json")
	require.NoError(t, os.WriteFile(claimsPath, []byte(`{"sub":"svc"}`), 0600))

	code, token, stderr := runCLI(t, "", "sign", "--key-file", filepath.Join(dir, "token-signing.key"), "--claims", claimsPath)
	require.Equal(t, exitOK, code, stderr)

	code, claims, stderr := runCLI(t, "", "verify", "--key-file", filepath.Join(dir, "token-signing.key.pub"), strings.TrimSpace(token))
	require.Equal(t, exitOK, code, stderr)
	assert.JSONEq(t, `{"sub":"svc"}`, claims)

	code, _, stderr = runCLI(t, "", "keygen", "--data-dir", dir)
	assert.Equal(t, exitError, code, "refuses to overwrite an existing key")
	assert.Contains(t, stderr, fingerprint)
}

func TestSignRejectsBadInput(t *testing.T) {
	_, privateHex, err := security.GenerateKeypair()
	require.NoError(t, err)

	code, _, stderr := runCLI(t, "{not json", "sign", "--key", privateHex)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "not valid JSON")

	code, _, _ = runCLI(t, "{}", "sign")
	assert.Equal(t, exitError, code)

	code, _, _ = runCLI(t, "{}", "sign", "--key", privateHex, "--key-file", "x")
	assert.Equal(t, exitError, code)

	code, _, _ = runCLI(t, "{}", "sign", "--key", "abcd")
	assert.Equal(t, exitError, code)
}

func TestHashAndVerifyPassword(t *testing.T) {
	if testing.Short() {
		t.Skip("hashes with the interactive preset")
	}
	code, hash, stderr := runCLI(t, "hunter22\n", "hash", "--preset", "interactive")
	require.Equal(t, exitOK, code, stderr)
	hash = strings.TrimSpace(hash)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$"), hash)

	code, out, _ := runCLI(t, "hunter22\n", "verify-password", hash)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "ok\n", out)

	code, _, stderr = runCLI(t, "hunter23\n", "verify-password", hash)
	assert.Equal(t, exitMismatch, code)
	assert.Equal(t, "mismatch\n", stderr)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	code, _, stderr := runCLI(t, "pw\n", "verify-password", "$argon2id$nope")
	assert.Equal(t, exitError, code, "a malformed hash is an error, not a mismatch")
	assert.Contains(t, stderr, "phc")

	code, _, _ = runCLI(t, "", "verify-password", "$argon2id$nope")
	assert.Equal(t, exitError, code, "empty stdin")

	code, _, _ = runCLI(t, "pw\n", "verify-password")
	assert.Equal(t, exitError, code)
}

func TestHashUnknownPreset(t *testing.T) {
	code, _, stderr := runCLI(t, "pw\n", "hash", "--preset", "paranoid")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "paranoid")
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "", "version")
	assert.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(out, "authctl "))
}

func TestReadSecret(t *testing.T) {
	got, err := readSecret(strings.NewReader("first line\r\nsecond\n"))
	require.NoError(t, err)
	assert.Equal(t, "first line", got)

	_, err = readSecret(strings.NewReader(""))
	assert.Error(t, err)
}

// fakeServer serves canned API responses.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+protocol.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		var req protocol.LoginRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		if req.Username != "alice" || req.Password != "secret pw" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "invalid credentials"}) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(protocol.LoginResponse{ //nolint:errcheck
			Token: "v4.public.tok", TokenType: protocol.TokenTypeBearer, ExpiresAt: time.Now().Add(time.Hour),
		})
	})
	mux.HandleFunc("GET "+protocol.PathMe, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer v4.public.tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(store.UserProfile{ID: "u1", Username: "alice"}) //nolint:errcheck
	})
	mux.HandleFunc("GET "+protocol.PathKeys, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.KeysResponse{ //nolint:errcheck
			Active: "fp1",
			Keys: []*store.VerifyingKey{
				{Fingerprint: "fp1", PublicKey: "aa", Label: "current"},
				{Fingerprint: "fp0", PublicKey: "bb", Label: "old"},
			},
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestClientCommands(t *testing.T) {
	ts := fakeServer(t)

	code, out, stderr := runCLI(t, "secret pw\n", "login", "--server", ts.URL, "--username", "alice")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "v4.public.tok\n", out)
	assert.Contains(t, stderr, "expires")

	code, _, stderr = runCLI(t, "wrong\n", "login", "--server", ts.URL, "--username", "alice")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "invalid credentials")

	code, out, stderr = runCLI(t, "", "whoami", "--server", ts.URL, "--token", "v4.public.tok")
	require.Equal(t, exitOK, code, stderr)
	var profile store.UserProfile
	require.NoError(t, json.Unmarshal([]byte(out), &profile))
	assert.Equal(t, "alice", profile.Username)

	t.Setenv("AUTHCORE_TOKEN", "v4.public.other")
	code, _, stderr = runCLI(t, "", "whoami", "--server", ts.URL)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "401")

	code, out, stderr = runCLI(t, "", "keys", "--server", ts.URL)
	require.Equal(t, exitOK, code, stderr)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "* fp1 aa current", lines[0])
	assert.Equal(t, "  fp0 bb old", lines[1])
}

func TestClientMissingCA(t *testing.T) {
	code, _, stderr := runCLI(t, "", "keys", "--ca-cert", filepath.Join(t.TempDir(), "missing.pem"))
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "reading CA")
}
