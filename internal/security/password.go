package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// readRandom fills salts. Tests replace it to simulate a failing source.
var readRandom = rand.Read

// Supported PHC algorithm identifiers.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmArgon2i  = "argon2i"
)

// Bounds applied to parameters, both when hashing and when parsing a
// stored hash.
const (
	MinSaltLength       = 16 // for new hashes
	minStoredSaltLength = 8  // smallest salt Argon2 accepts
	minKeyLength        = 4
	MaxMemory           = 4 * 1024 * 1024 // KiB (4 GiB)
	MaxTime             = 1024
)

// Params are the Argon2 cost parameters. They are encoded into every
// hash, so changing them never invalidates existing hashes.
type Params struct {
	Memory      uint32 // KiB of working memory
	Time        uint32 // iterations
	Parallelism uint8  // lanes
	SaltLength  uint32 // bytes
	KeyLength   uint32 // bytes
}

// HighSecurityParams are the OWASP "sensitive data" settings: 64 MiB,
// 3 iterations, 4 lanes. HashPassword uses these.
var HighSecurityParams = Params{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// InteractiveParams are a lighter preset (19 MiB, 2 iterations, 1 lane)
// for latency-sensitive logins on small machines.
var InteractiveParams = Params{
	Memory:      19 * 1024,
	Time:        2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Validate checks p for use when creating new hashes.
func (p Params) Validate() error {
	if err := p.validateCost(); err != nil {
		return err
	}
	if p.SaltLength < MinSaltLength {
		return newError(KindConfig, "validate params", ErrInvalidParams,
			fmt.Errorf("salt length %d below minimum %d", p.SaltLength, MinSaltLength))
	}
	if p.KeyLength < minKeyLength {
		return newError(KindConfig, "validate params", ErrInvalidParams,
			fmt.Errorf("key length %d below minimum %d", p.KeyLength, minKeyLength))
	}
	return nil
}

// validateCost checks the parameters that argon2 itself would panic on
// or that would let a corrupt record allocate without bound.
func (p Params) validateCost() error {
	switch {
	case p.Time < 1 || p.Time > MaxTime:
		return newError(KindConfig, "validate params", ErrInvalidParams,
			fmt.Errorf("time %d outside [1, %d]", p.Time, MaxTime))
	case p.Parallelism < 1:
		return newError(KindConfig, "validate params", ErrInvalidParams,
			fmt.Errorf("parallelism must be at least 1"))
	case p.Memory < 8*uint32(p.Parallelism) || p.Memory > MaxMemory:
		return newError(KindConfig, "validate params", ErrInvalidParams,
			fmt.Errorf("memory %d KiB outside [%d, %d]", p.Memory, 8*uint32(p.Parallelism), MaxMemory))
	}
	return nil
}

// PasswordHash is a parsed PHC hash string.
type PasswordHash struct {
	Algorithm string
	Version   int
	Params    Params
	Salt      []byte
	Key       []byte
}

// String encodes h in PHC format:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
//
// Salt and hash use unpadded standard base64.
func (h *PasswordHash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.Algorithm, h.Version,
		h.Params.Memory, h.Params.Time, h.Params.Parallelism,
		base64.RawStdEncoding.EncodeToString(h.Salt),
		base64.RawStdEncoding.EncodeToString(h.Key))
}

// ParsePasswordHash parses a PHC string produced by this package or
// any other conforming Argon2 implementation. Every failure is a
// KindConfig error.
func ParsePasswordHash(encoded string) (*PasswordHash, error) {
	const op = "parse password hash"

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, newError(KindConfig, op, ErrHashFormat,
			fmt.Errorf("got %d fields, want 6", len(parts)))
	}

	h := &PasswordHash{Algorithm: parts[1]}
	switch h.Algorithm {
	case AlgorithmArgon2id, AlgorithmArgon2i:
	default:
		return nil, newError(KindConfig, op, ErrUnsupportedAlgorithm, fmt.Errorf("%q", h.Algorithm))
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, newError(KindConfig, op, ErrHashFormat, fmt.Errorf("missing version field"))
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return nil, newError(KindConfig, op, ErrHashFormat, fmt.Errorf("version %q", version))
	}
	if v != argon2.Version {
		return nil, newError(KindConfig, op, ErrUnsupportedVersion, fmt.Errorf("got %d, want %d", v, argon2.Version))
	}
	h.Version = v

	params, err := parseCostParams(parts[3])
	if err != nil {
		return nil, newError(KindConfig, op, ErrInvalidParams, err)
	}
	if err := params.validateCost(); err != nil {
		return nil, err
	}

	h.Salt, err = base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return nil, newError(KindConfig, op, ErrHashSalt, err)
	}
	if len(h.Salt) < minStoredSaltLength {
		return nil, newError(KindConfig, op, ErrHashSalt,
			fmt.Errorf("got %d bytes, want at least %d", len(h.Salt), minStoredSaltLength))
	}

	h.Key, err = base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return nil, newError(KindConfig, op, ErrHashKey, err)
	}
	if len(h.Key) < minKeyLength {
		return nil, newError(KindConfig, op, ErrHashKey,
			fmt.Errorf("got %d bytes, want at least %d", len(h.Key), minKeyLength))
	}

	params.SaltLength = uint32(len(h.Salt))
	params.KeyLength = uint32(len(h.Key))
	h.Params = params
	return h, nil
}

// parseCostParams parses "m=<n>,t=<n>,p=<n>". Each key must appear
// exactly once; unknown keys are rejected.
func parseCostParams(field string) (Params, error) {
	var p Params
	seen := make(map[string]bool, 3)
	for _, kv := range strings.Split(field, ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || seen[key] {
			return p, fmt.Errorf("parameter %q", kv)
		}
		seen[key] = true

		switch key {
		case "m", "t":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return p, fmt.Errorf("parameter %q: %w", kv, err)
			}
			if key == "m" {
				p.Memory = uint32(n)
			} else {
				p.Time = uint32(n)
			}
		case "p":
			n, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return p, fmt.Errorf("parameter %q: %w", kv, err)
			}
			p.Parallelism = uint8(n)
		default:
			return p, fmt.Errorf("unknown parameter %q", key)
		}
	}
	if len(seen) != 3 {
		return p, fmt.Errorf("want m, t and p, got %q", field)
	}
	return p, nil
}

// PasswordHasher hashes and verifies passwords with a fixed set of
// parameters for new hashes. Verification always uses the parameters
// stored in the hash. It holds no mutable state.
type PasswordHasher struct {
	params Params
}

// NewPasswordHasher returns a hasher for p, or a KindConfig error if p
// is unusable.
func NewPasswordHasher(p Params) (*PasswordHasher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PasswordHasher{params: p}, nil
}

// Params returns the parameters used for new hashes.
func (ph *PasswordHasher) Params() Params { return ph.params }

// Hash derives a new Argon2id hash of password under a fresh random salt.
func (ph *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, ph.params.SaltLength)
	if _, err := readRandom(salt); err != nil {
		return "", newError(KindCrypto, "hash password", ErrSaltGeneration, err)
	}

	h := &PasswordHash{
		Algorithm: AlgorithmArgon2id,
		Version:   argon2.Version,
		Params:    ph.params,
		Salt:      salt,
		Key:       deriveKey(AlgorithmArgon2id, []byte(password), salt, ph.params),
	}
	return h.String(), nil
}

// Verify reports whether password matches the stored hash. A wrong
// password is (false, nil); an error means the stored hash itself is
// malformed or unsupported.
func (ph *PasswordHasher) Verify(encoded, password string) (bool, error) {
	return VerifyPassword(encoded, password)
}

// NeedsRehash reports whether encoded was produced with parameters or
// an algorithm other than this hasher's, so the caller can replace it
// after a successful login.
func (ph *PasswordHasher) NeedsRehash(encoded string) (bool, error) {
	h, err := ParsePasswordHash(encoded)
	if err != nil {
		return false, err
	}
	return h.Algorithm != AlgorithmArgon2id || h.Params != ph.params, nil
}

// HashPassword hashes password with HighSecurityParams.
func HashPassword(password string) (string, error) {
	ph := PasswordHasher{params: HighSecurityParams}
	return ph.Hash(password)
}

// VerifyPassword checks password against a stored PHC hash using the
// algorithm, parameters and salt embedded in it. The comparison runs
// in constant time.
func VerifyPassword(encoded, password string) (bool, error) {
	h, err := ParsePasswordHash(encoded)
	if err != nil {
		return false, err
	}
	key := deriveKey(h.Algorithm, []byte(password), h.Salt, h.Params)
	return subtle.ConstantTimeCompare(key, h.Key) == 1, nil
}

func deriveKey(algorithm string, password, salt []byte, p Params) []byte {
	if algorithm == AlgorithmArgon2i {
		return argon2.Key(password, salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)
	}
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)
}
