package did

import (
	"encoding/base64"

	"github.com/multiformats/go-multibase"
)

// multicodec prefixes this package strips off a decoded Multikey value.
// These are the two key types the envelope engine's signer/key-agreement
// tables need (spec §6's Ed25519/X25519 arms); secp256k1 keys carried as
// Multikey use the same two-byte varint prefix convention.
var multicodecPrefixes = [][]byte{
	{0xed, 0x01}, // ed25519-pub
	{0xec, 0x01}, // x25519-pub
	{0xe7, 0x01}, // secp256k1-pub
}

// DecodeMultikey decodes a multibase-encoded Multikey verification-method
// value, grounded on the teacher's direct dependency on
// github.com/multiformats/go-multibase for did:key-style public keys.
func DecodeMultikey(encoded string) ([]byte, error) {
	_, data, err := multibase.Decode(encoded)
	if err != nil {
		return nil, err
	}
	for _, prefix := range multicodecPrefixes {
		if len(data) > len(prefix) && bytesHasPrefix(data, prefix) {
			return data[len(prefix):], nil
		}
	}
	return data, nil
}

// EncodeMultikey multibase-encodes raw key bytes behind the ed25519-pub
// multicodec prefix, used by tests and the secret-store helpers that
// mint did:key-shaped verification methods.
func EncodeMultikey(raw []byte) (string, error) {
	prefixed := append(append([]byte{}, multicodecPrefixes[0]...), raw...)
	return multibase.Encode(multibase.Base58BTC, prefixed)
}

func bytesHasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
