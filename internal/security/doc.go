// Package security provides the authentication primitives for the platform:
//
//   - Pre-authentication encoding (PAE), the exact byte domain that gets signed
//   - Ed25519 keypair generation, with keys exchanged as hex strings
//   - v4.public bearer tokens: signing and strict, ordered verification
//   - Argon2id password hashing in the PHC string format
//   - The server's signing identity and HTTP bearer middleware
//
// # Token format
//
//	v4.public.<base64url(message)>.<base64url(signature)>
//
// The message is the JSON encoding of caller-defined claims. The
// signature is Ed25519 over PAE("v4.public.", message, ""). Tokens are
// authenticated, not encrypted: anyone holding a token can read its
// claims, so claims must never carry secrets.
//
// Expiry, audience, and revocation are not part of the signature gate.
// They travel as ordinary claim fields and are checked by the caller
// after VerifyToken succeeds (see BearerAuth).
//
// # Private keys
//
// A private key is hex of either the 32-byte seed or the 64-byte
// seed||public form produced by GenerateKeypair. Only the seed is used
// to sign; the public half is always re-derived, never trusted as-is.
//
// # Concurrency
//
// Every function in this package that does not take a logger or a
// filesystem path is pure apart from reading crypto/rand, and is safe
// to call from any number of goroutines. Password hashing is slow on
// purpose (tens to hundreds of milliseconds); servers should bound how
// many hashes run at once.
package security
