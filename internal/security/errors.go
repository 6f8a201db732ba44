package security

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error returned by the primitives in this
// package. Callers branch on the kind rather than on message text.
type ErrorKind int

const (
	// KindEncoding is malformed hex or base64 input.
	KindEncoding ErrorKind = iota + 1
	// KindLength is a key or signature that decodes to the wrong byte count.
	KindLength
	// KindStructure is a token that does not match the header or segment shape.
	KindStructure
	// KindCrypto is a signature that failed verification, or a random
	// source that could not produce a salt.
	KindCrypto
	// KindSerialization is claims that could not be encoded or decoded.
	KindSerialization
	// KindConfig is an unsupported or malformed password-hash parameter string.
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindEncoding:
		return "encoding"
	case KindLength:
		return "length"
	case KindStructure:
		return "structure"
	case KindCrypto:
		return "crypto"
	case KindSerialization:
		return "serialization"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the concrete error type returned by this package. Err is
// always one of the sentinel values below, optionally wrapping a cause.
type Error struct {
	Kind ErrorKind
	Op   string // "sign token", "verify token", "hash password", ...
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("security: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or 0 if err did not originate here.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

func newError(kind ErrorKind, op string, sentinel error, cause error) *Error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %v", sentinel, cause)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Key errors
var (
	ErrKeyEncoding = errors.New("key: invalid hex encoding")
	ErrKeyLength   = errors.New("key: invalid length")
	ErrKeyMismatch = errors.New("key: public key does not match private seed")
)

// Token errors, one per verification gate.
var (
	ErrHeaderMismatch    = errors.New("token: header mismatch")
	ErrMalformedToken    = errors.New("token: malformed structure")
	ErrPayloadEncoding   = errors.New("token: invalid payload encoding")
	ErrSignatureEncoding = errors.New("token: invalid signature encoding")
	ErrSignatureLength   = errors.New("token: invalid signature length")
	ErrInvalidSignature  = errors.New("token: invalid signature")
	ErrClaimsEncoding    = errors.New("token: claims cannot be encoded")
	ErrClaimsSchema      = errors.New("token: authentic payload does not match claims schema")
)

// Password hash errors
var (
	ErrHashFormat           = errors.New("phc: invalid format")
	ErrUnsupportedAlgorithm = errors.New("phc: unsupported algorithm")
	ErrUnsupportedVersion   = errors.New("phc: unsupported version")
	ErrInvalidParams        = errors.New("phc: invalid parameters")
	ErrHashSalt             = errors.New("phc: invalid salt")
	ErrHashKey              = errors.New("phc: invalid hash")
)

// ErrSaltGeneration is returned when the system random source fails.
var ErrSaltGeneration = errors.New("phc: failed to generate salt")
