package security

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	privateKeyFile = "token-signing.key"
	publicKeyFile  = "token-signing.key.pub"
)

// Identity is the server's token-issuing keypair.
type Identity struct {
	PublicKey ed25519.PublicKey
	signer    *Signer
	verifier  *Verifier
}

// Fingerprint returns the BLAKE3-256 hex fingerprint of a public key.
func Fingerprint(public ed25519.PublicKey) string {
	sum := blake3.Sum256(public)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the fingerprint of the identity's public key.
// Verifiers use it to pick the right key out of a published set.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.PublicKey)
}

// PublicKeyHex returns the hex public key handed to verifiers.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.PublicKey)
}

// Sign issues a token for claims.
func (id *Identity) Sign(claims any) (string, error) {
	return id.signer.Sign(claims)
}

// Verifier returns a verifier for tokens issued by this identity.
func (id *Identity) Verifier() *Verifier {
	return id.verifier
}

// NewIdentity builds an identity from a hex private key.
func NewIdentity(privateKeyHex string) (*Identity, error) {
	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	public := signer.PublicKey()
	return &Identity{
		PublicKey: public,
		signer:    signer,
		verifier:  &Verifier{public: public},
	}, nil
}

// LoadOrCreateIdentity loads the signing keypair from dataDir, or
// generates and saves one if no private key file exists yet. The bool
// result reports whether a new keypair was created.
func LoadOrCreateIdentity(dataDir string) (*Identity, bool, error) {
	privatePath := filepath.Join(dataDir, privateKeyFile)
	if _, err := os.Stat(privatePath); err == nil {
		id, err := LoadIdentity(dataDir)
		return id, false, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("checking private key: %w", err)
	}

	id, err := generateIdentity(dataDir)
	if err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// LoadIdentity reads the hex keypair files from dataDir. The public key
// is re-derived from the seed; a stored public key (the .pub file or the
// upper half of a 64-byte private key) that disagrees with it is an error.
func LoadIdentity(dataDir string) (*Identity, error) {
	privateHex, err := readHexFile(filepath.Join(dataDir, privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	id, err := NewIdentity(privateHex)
	if err != nil {
		return nil, err
	}

	raw, _ := hex.DecodeString(privateHex)
	if len(raw) == ed25519.PrivateKeySize && !bytes.Equal(raw[ed25519.SeedSize:], id.PublicKey) {
		return nil, newError(KindConfig, "load identity", ErrKeyMismatch, fmt.Errorf("embedded public key"))
	}

	publicHex, err := readHexFile(filepath.Join(dataDir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	public, err := ParsePublicKey(publicHex)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(public, id.PublicKey) {
		return nil, newError(KindConfig, "load identity", ErrKeyMismatch, fmt.Errorf("%s", publicKeyFile))
	}
	return id, nil
}

func generateIdentity(dataDir string) (*Identity, error) {
	publicHex, privateHex, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(dataDir, privateKeyFile), []byte(privateHex+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, publicKeyFile), []byte(publicHex+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("writing public key: %w", err)
	}
	return NewIdentity(privateHex)
}

func readHexFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
