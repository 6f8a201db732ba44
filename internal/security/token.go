package security

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strings"
)

// TokenHeader is the fixed version and purpose prefix of every token.
const TokenHeader = "v4.public."

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

var segmentEncoding = base64.RawURLEncoding.Strict()

// SignToken encodes claims as JSON and signs them with the hex private
// key, returning a v4.public token. The claims are readable by anyone
// holding the token.
func SignToken[C any](claims C, privateKeyHex string) (string, error) {
	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return "", err
	}
	return signer.Sign(claims)
}

// VerifyToken checks token against the hex public key and decodes its
// claims into a C. The checks run in a fixed order and stop at the
// first failure: header, segment shape, segment encoding, signature
// length, public key, signature, and finally claims decoding. Claims
// are never decoded from a token whose signature did not verify.
func VerifyToken[C any](token, publicKeyHex string) (C, error) {
	const op = "verify token"
	var claims C

	message, signature, err := splitToken(token)
	if err != nil {
		return claims, err
	}

	public, err := ParsePublicKey(publicKeyHex)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			se.Op = op
		}
		return claims, err
	}

	if err := verifyMessage(public, message, signature); err != nil {
		return claims, err
	}
	if err := decodeClaims(message, &claims); err != nil {
		return claims, err
	}
	return claims, nil
}

// Signer issues tokens under one private key. It is safe for concurrent use.
type Signer struct {
	private ed25519.PrivateKey
}

// NewSigner parses a hex private key (32-byte seed or 64-byte
// seed||public) into a Signer.
func NewSigner(privateKeyHex string) (*Signer, error) {
	private, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			se.Op = "sign token"
		}
		return nil, err
	}
	return &Signer{private: private}, nil
}

// PublicKey returns the verifying key matching this signer.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.private.Public().(ed25519.PublicKey)
}

// Sign encodes claims as JSON and returns the signed token string.
func (s *Signer) Sign(claims any) (string, error) {
	message, err := json.Marshal(claims)
	if err != nil {
		return "", newError(KindSerialization, "sign token", ErrClaimsEncoding, err)
	}

	signature := ed25519.Sign(s.private, PAE([]byte(TokenHeader), message, nil))

	var b strings.Builder
	b.Grow(len(TokenHeader) + segmentEncoding.EncodedLen(len(message)) + 1 + segmentEncoding.EncodedLen(signatureSize))
	b.WriteString(TokenHeader)
	b.WriteString(segmentEncoding.EncodeToString(message))
	b.WriteByte('.')
	b.WriteString(segmentEncoding.EncodeToString(signature))
	return b.String(), nil
}

// Verifier checks tokens against one public key. It is safe for
// concurrent use.
type Verifier struct {
	public ed25519.PublicKey
}

// NewVerifier parses a hex public key into a Verifier.
func NewVerifier(publicKeyHex string) (*Verifier, error) {
	public, err := ParsePublicKey(publicKeyHex)
	if err != nil {
		return nil, err
	}
	return &Verifier{public: public}, nil
}

// NewVerifierFromKey wraps an already parsed public key.
func NewVerifierFromKey(public ed25519.PublicKey) (*Verifier, error) {
	if len(public) != ed25519.PublicKeySize {
		return nil, newError(KindLength, "parse public key", ErrKeyLength,
			fmt.Errorf("got %d bytes, want %d", len(public), ed25519.PublicKeySize))
	}
	return &Verifier{public: public}, nil
}

// Verify checks token and decodes its claims into dst, which must be a
// pointer. It applies the same gates, in the same order, as VerifyToken.
func (v *Verifier) Verify(token string, dst any) error {
	message, signature, err := splitToken(token)
	if err != nil {
		return err
	}
	if err := verifyMessage(v.public, message, signature); err != nil {
		return err
	}
	return decodeClaims(message, dst)
}

// splitToken applies the structural gates and returns the decoded
// message and signature bytes.
func splitToken(token string) (message, signature []byte, err error) {
	const op = "verify token"

	if !strings.HasPrefix(token, TokenHeader) {
		return nil, nil, newError(KindStructure, op, ErrHeaderMismatch, nil)
	}

	// The base64url alphabet has no '.', so splitting the remainder is
	// unambiguous.
	segments := strings.Split(token[len(TokenHeader):], ".")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return nil, nil, newError(KindStructure, op, ErrMalformedToken,
			fmt.Errorf("got %d segments after header, want 2 non-empty", len(segments)))
	}

	message, err = decodeSegment(segments[0])
	if err != nil {
		return nil, nil, newError(KindEncoding, op, ErrPayloadEncoding, err)
	}
	signature, err = decodeSegment(segments[1])
	if err != nil {
		return nil, nil, newError(KindEncoding, op, ErrSignatureEncoding, err)
	}

	if len(signature) != signatureSize {
		return nil, nil, newError(KindLength, op, ErrSignatureLength,
			fmt.Errorf("got %d bytes, want %d", len(signature), signatureSize))
	}
	return message, signature, nil
}

// decodeSegment decodes canonical unpadded base64url. The stdlib
// decoder skips '\r' and '\n', so those are rejected up front along
// with every other byte outside the alphabet.
func decodeSegment(segment string) ([]byte, error) {
	for i := 0; i < len(segment); i++ {
		if !isBase64URL(segment[i]) {
			return nil, fmt.Errorf("illegal base64url byte %#02x at offset %d", segment[i], i)
		}
	}
	return segmentEncoding.DecodeString(segment)
}

func isBase64URL(c byte) bool {
	return c >= 'A' && c <= 'Z' ||
		c >= 'a' && c <= 'z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_'
}

// verifyMessage reports only that the signature failed. Which byte was
// wrong is never surfaced.
func verifyMessage(public ed25519.PublicKey, message, signature []byte) error {
	if !ed25519.Verify(public, PAE([]byte(TokenHeader), message, nil), signature) {
		return newError(KindCrypto, "verify token", ErrInvalidSignature, nil)
	}
	return nil
}

// decodeClaims decodes an authenticated message. Unknown fields and
// trailing data are schema mismatches, not silently dropped.
func decodeClaims(message []byte, dst any) error {
	const op = "verify token"

	dec := json.NewDecoder(bytes.NewReader(message))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return newError(KindSerialization, op, ErrClaimsSchema, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return newError(KindSerialization, op, ErrClaimsSchema, fmt.Errorf("trailing data after claims"))
	}
	if err := checkClaimKeys(message, dst); err != nil {
		return newError(KindSerialization, op, ErrClaimsSchema, err)
	}
	return nil
}

// checkClaimKeys holds struct targets to their exact top-level shape.
// encoding/json leaves absent fields at their zero value, accepts null
// and matches keys case-insensitively; none of those surface from
// Decode. Fields tagged omitempty or omitzero may be absent. Maps,
// slices and json.RawMessage targets are not checked.
func checkClaimKeys(message []byte, dst any) error {
	t := reflect.TypeOf(dst)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(message, &object); err != nil {
		return fmt.Errorf("claims are not a JSON object: %w", err)
	}
	if object == nil {
		return errors.New("claims are null")
	}

	fields := claimFields(t, nil)
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.name] = true
		if f.required {
			if _, ok := object[f.name]; !ok {
				return fmt.Errorf("missing claim %q", f.name)
			}
		}
	}
	for key := range object {
		if !known[key] {
			return fmt.Errorf("claim key %q does not match any field exactly", key)
		}
	}
	return nil
}

type claimField struct {
	name     string
	required bool
}

// claimFields lists the JSON keys of struct type t the way
// encoding/json names them, flattening untagged embedded structs.
func claimFields(t reflect.Type, seen []reflect.Type) []claimField {
	if slices.Contains(seen, t) {
		return nil
	}
	seen = append(seen, t)

	var fields []claimField
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if f.Anonymous && name == "" && ft.Kind() == reflect.Struct {
			fields = append(fields, claimFields(ft, seen)...)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}

		required := true
		for _, opt := range strings.Split(opts, ",") {
			if opt == "omitempty" || opt == "omitzero" {
				required = false
			}
		}
		fields = append(fields, claimField{name: name, required: required})
	}
	return fields
}
