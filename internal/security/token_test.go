package security

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClaims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles,omitempty"`
	Expires int64    `json:"exp"`
}

func newTestKeys(t *testing.T) (publicHex, privateHex string) {
	t.Helper()
	publicHex, privateHex, err := GenerateKeypair()
	require.NoError(t, err)
	return publicHex, privateHex
}

// assemble builds a token from raw message and signature bytes.
func assemble(message, signature []byte) string {
	enc := base64.RawURLEncoding
	return TokenHeader + enc.EncodeToString(message) + "." + enc.EncodeToString(signature)
}

// parts returns the decoded message and signature of a well-formed token.
func parts(t *testing.T, token string) (message, signature []byte) {
	t.Helper()
	segments := strings.Split(strings.TrimPrefix(token, TokenHeader), ".")
	require.Len(t, segments, 2)
	message, err := base64.RawURLEncoding.DecodeString(segments[0])
	require.NoError(t, err)
	signature, err = base64.RawURLEncoding.DecodeString(segments[1])
	require.NoError(t, err)
	return message, signature
}

func TestTokenRoundTrip(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	claims := testClaims{Subject: "user-1", Roles: []string{"admin"}, Expires: 1700000000}

	token, err := SignToken(claims, privateHex)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "v4.public."))
	assert.Equal(t, 3, strings.Count(token, "."), "header dots plus one separator")

	got, err := VerifyToken[testClaims](token, publicHex)
	require.NoError(t, err)
	assert.Equal(t, claims, got)
}

func TestTokenWireFormat(t *testing.T) {
	_, privateHex := newTestKeys(t)

	token, err := SignToken(map[string]string{"sub": "x"}, privateHex)
	require.NoError(t, err)

	message, signature := parts(t, token)
	assert.JSONEq(t, `{"sub":"x"}`, string(message), "message is embedded unencrypted")
	assert.Len(t, signature, 64)
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
}

func TestTokenSeedAndExpandedKeysAgree(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	claims := testClaims{Subject: "same"}

	fromExpanded, err := SignToken(claims, privateHex)
	require.NoError(t, err)
	fromSeed, err := SignToken(claims, privateHex[:64])
	require.NoError(t, err)

	// Ed25519 is deterministic, so one seed gives one signature.
	assert.Equal(t, fromExpanded, fromSeed)

	_, err = VerifyToken[testClaims](fromSeed, publicHex)
	assert.NoError(t, err)
}

func TestTokenCrossKeyRejected(t *testing.T) {
	_, privateA := newTestKeys(t)
	publicB, _ := newTestKeys(t)

	token, err := SignToken(testClaims{Subject: "a"}, privateA)
	require.NoError(t, err)

	_, err = VerifyToken[testClaims](token, publicB)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, KindCrypto, KindOf(err))
}

func TestTokenMessageBitFlipsRejected(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	token, err := SignToken(testClaims{Subject: "user-1"}, privateHex)
	require.NoError(t, err)
	message, signature := parts(t, token)

	for i := range message {
		for bit := range 8 {
			tampered := append([]byte(nil), message...)
			tampered[i] ^= 1 << bit

			_, err := VerifyToken[testClaims](assemble(tampered, signature), publicHex)
			require.ErrorIs(t, err, ErrInvalidSignature, "byte %d bit %d", i, bit)
			require.Equal(t, KindCrypto, KindOf(err))
		}
	}
}

func TestTokenSignatureBitFlipsRejected(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	token, err := SignToken(testClaims{Subject: "user-1"}, privateHex)
	require.NoError(t, err)
	message, signature := parts(t, token)

	for i := range signature {
		for bit := range 8 {
			tampered := append([]byte(nil), signature...)
			tampered[i] ^= 1 << bit

			_, err := VerifyToken[testClaims](assemble(message, tampered), publicHex)
			require.ErrorIs(t, err, ErrInvalidSignature, "byte %d bit %d", i, bit)
		}
	}
}

func TestTokenCharacterSubstitutionRejected(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	token, err := SignToken(testClaims{Subject: "user-1"}, privateHex)
	require.NoError(t, err)

	for i := range token {
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}
		tampered := token[:i] + string(replacement) + token[i+1:]

		_, err := VerifyToken[testClaims](tampered, publicHex)
		require.Error(t, err, "substitution at offset %d accepted", i)
	}
}

func TestTokenStructuralGates(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	token, err := SignToken(testClaims{Subject: "u"}, privateHex)
	require.NoError(t, err)
	message, signature := parts(t, token)
	enc := base64.RawURLEncoding

	cases := []struct {
		name  string
		token string
		want  error
		kind  ErrorKind
	}{
		{"empty", "", ErrHeaderMismatch, KindStructure},
		{"other version", strings.Replace(token, "v4.", "v3.", 1), ErrHeaderMismatch, KindStructure},
		{"other purpose", strings.Replace(token, ".public.", ".local.", 1), ErrHeaderMismatch, KindStructure},
		{"uppercase header", strings.Replace(token, "v4.public.", "V4.PUBLIC.", 1), ErrHeaderMismatch, KindStructure},
		{"header only", TokenHeader, ErrMalformedToken, KindStructure},
		{"one segment", TokenHeader + enc.EncodeToString(message), ErrMalformedToken, KindStructure},
		{"footer segment", token + ".Zm9vdGVy", ErrMalformedToken, KindStructure},
		{"empty payload", TokenHeader + "." + enc.EncodeToString(signature), ErrMalformedToken, KindStructure},
		{"empty signature", TokenHeader + enc.EncodeToString(message) + ".", ErrMalformedToken, KindStructure},
		{"padded payload", TokenHeader + base64.URLEncoding.EncodeToString([]byte("ab")) + "." + enc.EncodeToString(signature), ErrPayloadEncoding, KindEncoding},
		{"std alphabet payload", TokenHeader + "a+b/" + "." + enc.EncodeToString(signature), ErrPayloadEncoding, KindEncoding},
		{"newline in payload", TokenHeader + "ab\ncd" + "." + enc.EncodeToString(signature), ErrPayloadEncoding, KindEncoding},
		{"carriage return in signature", TokenHeader + enc.EncodeToString(message) + "." + "ab\rcd", ErrSignatureEncoding, KindEncoding},
		{"short signature", assemble(message, signature[:63]), ErrSignatureLength, KindLength},
		{"long signature", assemble(message, append(signature, 0)), ErrSignatureLength, KindLength},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := VerifyToken[testClaims](tc.token, publicHex)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}
}

func TestTokenGateOrder(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	token, err := SignToken(testClaims{Subject: "u"}, privateHex)
	require.NoError(t, err)

	t.Run("structure before key", func(t *testing.T) {
		_, err := VerifyToken[testClaims]("garbage", "not-hex")
		assert.ErrorIs(t, err, ErrHeaderMismatch)
	})

	t.Run("signature length before key", func(t *testing.T) {
		message, signature := parts(t, token)
		_, err := VerifyToken[testClaims](assemble(message, signature[:10]), "not-hex")
		assert.ErrorIs(t, err, ErrSignatureLength)
	})

	t.Run("key before signature", func(t *testing.T) {
		_, err := VerifyToken[testClaims](token, publicHex[:62])
		assert.ErrorIs(t, err, ErrKeyLength)
		assert.Equal(t, KindLength, KindOf(err))

		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "verify token", se.Op)
	})

	t.Run("bad key hex", func(t *testing.T) {
		_, err := VerifyToken[testClaims](token, "zz"+publicHex[2:])
		assert.Equal(t, KindEncoding, KindOf(err))
	})

	t.Run("signature before schema", func(t *testing.T) {
		forged, err := SignToken(map[string]int{"unknown": 1}, privateHex)
		require.NoError(t, err)
		other, _ := newTestKeys(t)
		_, err = VerifyToken[testClaims](forged, other)
		assert.ErrorIs(t, err, ErrInvalidSignature, "schema is never checked on an unauthenticated payload")
	})
}

func TestTokenSchemaMismatch(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)

	cases := []struct {
		name   string
		claims any
	}{
		{"unknown field", map[string]any{"sub": "u", "admin": true}},
		{"wrong type", map[string]any{"sub": 42}},
		{"not an object", "just a string"},
		{"missing field", map[string]any{"sub": "u"}},
		{"empty object", map[string]any{}},
		{"null payload", nil},
		{"case-folded key", map[string]any{"SUB": "admin", "EXP": 5}},
		{"case-folded duplicate", map[string]any{"sub": "u", "exp": 1, "Sub": "admin"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := SignToken(tc.claims, privateHex)
			require.NoError(t, err)

			_, err = VerifyToken[testClaims](token, publicHex)
			assert.ErrorIs(t, err, ErrClaimsSchema)
			assert.Equal(t, KindSerialization, KindOf(err))
		})
	}
}

type auditInfo struct {
	Client string `json:"client"`
}

type nestedClaims struct {
	auditInfo
	Subject string `json:"sub"`
	Scope   string `json:"scope,omitempty"`
	Note    string `json:"note,omitzero"`
	Cache   string `json:"-"`
	Dash    string `json:"-,"`
	Plain   int
}

func TestTokenClaimKeys(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)

	cases := []struct {
		name   string
		claims map[string]any
		ok     bool
	}{
		{"all keys", map[string]any{"client": "cli", "sub": "u", "scope": "r", "note": "n", "-": "d", "Plain": 1}, true},
		{"optional keys absent", map[string]any{"client": "cli", "sub": "u", "-": "d", "Plain": 1}, true},
		{"embedded key absent", map[string]any{"sub": "u", "-": "d", "Plain": 1}, false},
		{"untagged key case-folded", map[string]any{"client": "cli", "sub": "u", "-": "d", "plain": 1}, false},
		{"ignored field supplied", map[string]any{"client": "cli", "sub": "u", "-": "d", "Plain": 1, "Cache": "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := SignToken(tc.claims, privateHex)
			require.NoError(t, err)

			got, err := VerifyToken[nestedClaims](token, publicHex)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrClaimsSchema)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "cli", got.Client)
			assert.Equal(t, "u", got.Subject)
			assert.Equal(t, 1, got.Plain)
		})
	}
}

func TestTokenUntypedTargetsSkipKeyCheck(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)

	token, err := SignToken(map[string]any{}, privateHex)
	require.NoError(t, err)
	m, err := VerifyToken[map[string]any](token, publicHex)
	require.NoError(t, err)
	assert.Empty(t, m)

	token, err = SignToken[any](nil, privateHex)
	require.NoError(t, err)
	raw, err := VerifyToken[json.RawMessage](token, publicHex)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	// A pointer target is held to the same shape as the struct itself.
	token, err = SignToken(map[string]any{"sub": "u"}, privateHex)
	require.NoError(t, err)
	_, err = VerifyToken[*testClaims](token, publicHex)
	assert.ErrorIs(t, err, ErrClaimsSchema)
}

func TestTokenTrailingDataRejected(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	signer, err := NewSigner(privateHex)
	require.NoError(t, err)

	message := []byte(`{"sub":"u"} {"sub":"v"}`)
	signature := signRaw(signer, message)

	_, err = VerifyToken[testClaims](assemble(message, signature), publicHex)
	assert.ErrorIs(t, err, ErrClaimsSchema)
}

func TestTokenUnencodableClaims(t *testing.T) {
	_, privateHex := newTestKeys(t)

	_, err := SignToken(map[string]any{"c": make(chan int)}, privateHex)
	assert.ErrorIs(t, err, ErrClaimsEncoding)
	assert.Equal(t, KindSerialization, KindOf(err))
}

func TestSignTokenBadKey(t *testing.T) {
	_, err := SignToken(testClaims{}, "xyz")
	assert.Equal(t, KindEncoding, KindOf(err))

	_, err = SignToken(testClaims{}, strings.Repeat("ab", 31))
	assert.ErrorIs(t, err, ErrKeyLength)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "sign token", se.Op)
}

func TestVerifierMatchesVerifyToken(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	signer, err := NewSigner(privateHex)
	require.NoError(t, err)

	verifier, err := NewVerifierFromKey(signer.PublicKey())
	require.NoError(t, err)
	byHex, err := NewVerifier(publicHex)
	require.NoError(t, err)

	token, err := signer.Sign(testClaims{Subject: "v"})
	require.NoError(t, err)

	var a, b testClaims
	require.NoError(t, verifier.Verify(token, &a))
	require.NoError(t, byHex.Verify(token, &b))
	assert.Equal(t, "v", a.Subject)
	assert.Equal(t, a, b)

	_, err = NewVerifierFromKey(signer.PublicKey()[:31])
	assert.ErrorIs(t, err, ErrKeyLength)
}

func TestTokenConcurrentUse(t *testing.T) {
	publicHex, privateHex := newTestKeys(t)
	signer, err := NewSigner(privateHex)
	require.NoError(t, err)
	verifier, err := NewVerifier(publicHex)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			want := testClaims{Subject: "worker", Expires: int64(i)}
			token, err := signer.Sign(want)
			if err != nil {
				errs <- err
				return
			}
			var got testClaims
			if err := verifier.Verify(token, &got); err != nil {
				errs <- err
				return
			}
			if got.Subject != want.Subject || got.Expires != want.Expires {
				errs <- assert.AnError
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

// signRaw signs an arbitrary message, bypassing JSON encoding.
func signRaw(s *Signer, message []byte) []byte {
	return ed25519.Sign(s.private, PAE([]byte(TokenHeader), message, nil))
}
