package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateKeypair creates a new Ed25519 signing keypair from crypto/rand.
//
// publicHex is the 32-byte public key. privateHex is the 64-byte
// seed||public form, so a signer can skip re-deriving the public key;
// only the first 32 bytes are secret and only they are used to sign.
func GenerateKeypair() (publicHex, privateHex string, err error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", "", fmt.Errorf("generating Ed25519 seed: %w", err)
	}

	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)

	// ed25519.PrivateKey is already seed||public.
	return hex.EncodeToString(public), hex.EncodeToString(private), nil
}

// ParsePrivateKey decodes a hex private key in either the 32-byte seed
// or the 64-byte seed||public form. Bytes past the seed are ignored; the
// returned key always carries a freshly derived public half.
func ParsePrivateKey(privateKeyHex string) (ed25519.PrivateKey, error) {
	const op = "parse private key"

	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, newError(KindEncoding, op, ErrKeyEncoding, err)
	}
	if len(raw) < ed25519.SeedSize {
		return nil, newError(KindLength, op, ErrKeyLength,
			fmt.Errorf("got %d bytes, want at least %d", len(raw), ed25519.SeedSize))
	}
	return ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize]), nil
}

// ParsePublicKey decodes a hex public key, which must be exactly 32 bytes.
func ParsePublicKey(publicKeyHex string) (ed25519.PublicKey, error) {
	const op = "parse public key"

	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, newError(KindEncoding, op, ErrKeyEncoding, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, newError(KindLength, op, ErrKeyLength,
			fmt.Errorf("got %d bytes, want %d", len(raw), ed25519.PublicKeySize))
	}
	return ed25519.PublicKey(raw), nil
}

// PublicKeyHex derives the hex public key for a hex private key.
func PublicKeyHex(privateKeyHex string) (string, error) {
	private, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(private.Public().(ed25519.PublicKey)), nil
}
