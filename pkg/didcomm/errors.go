package didcomm

import (
	"encoding/base64"
	"fmt"
)

// The error types below are the closed taxonomy spec §7 defines for the
// envelope engine: each maps 1:1 to a row of that table and carries enough
// context to build a Problem Report without re-deriving it.

// ErrMalformedEnvelope reports structurally invalid JOSE input: bad JSON,
// missing required members, or protected-header base64 that won't decode.
// Fatal, per spec §7.
type ErrMalformedEnvelope struct {
	Reason string
}

func (e *ErrMalformedEnvelope) Error() string {
	return fmt.Sprintf("malformed envelope: %s", e.Reason)
}

// ErrUnsupportedCrypto reports an alg/enc/crv combination outside the
// closed dispatch table (spec §9 "Variant dispatch over types"). Fatal.
type ErrUnsupportedCrypto struct {
	Alg string
	Enc string
}

func (e *ErrUnsupportedCrypto) Error() string {
	switch {
	case e.Enc != "":
		return fmt.Sprintf("unsupported crypto: alg=%s enc=%s", e.Alg, e.Enc)
	default:
		return fmt.Sprintf("unsupported crypto: alg=%s", e.Alg)
	}
}

// ErrVerificationFailed reports a JWS signature or AEAD tag that did not
// verify. Fatal — never retried, never partially trusted.
type ErrVerificationFailed struct {
	Reason string
}

func (e *ErrVerificationFailed) Error() string {
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

// ErrMessageExpired reports a Plaintext whose expires_time has passed,
// checked after the outermost envelope is fully open (spec §4.C unpack,
// last step).
type ErrMessageExpired struct {
	ExpiresTime int64
	Now         int64
}

func (e *ErrMessageExpired) Error() string {
	return fmt.Sprintf("message expired at %d (now %d)", e.ExpiresTime, e.Now)
}

// ErrNoCompatibleCrypto reports that pack found no algorithm combination
// satisfying every recipient's verification methods and the caller's
// requested alg/enc choice. Fatal.
type ErrNoCompatibleCrypto struct {
	Reason string
}

func (e *ErrNoCompatibleCrypto) Error() string {
	return fmt.Sprintf("no compatible crypto: %s", e.Reason)
}

// ErrForwardLoop reports a forward envelope whose next hop resolves back
// to an address already unwrapped in this chain (spec §4.I loop refusal).
type ErrForwardLoop struct {
	Next string
}

func (e *ErrForwardLoop) Error() string {
	return fmt.Sprintf("forward loop detected at %s", e.Next)
}

func base64URLDecodeString(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func base64URLEncodeString(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
