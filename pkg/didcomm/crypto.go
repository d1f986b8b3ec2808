package didcomm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// ContentEncAlg is the closed set of "enc" values this envelope engine
// supports, per spec §6's algorithm matrix.
type ContentEncAlg string

const (
	EncA256CBCHS512 ContentEncAlg = "A256CBC-HS512"
	EncA256GCM      ContentEncAlg = "A256GCM"
	EncXC20P        ContentEncAlg = "XC20P"
)

// keySize returns the raw CEK length for an enc alg: AEAD key size for
// A256GCM/XC20P, and MAC-key||enc-key size for the composite A256CBC-HS512.
func (e ContentEncAlg) keySize() int {
	switch e {
	case EncA256CBCHS512:
		return 64
	case EncA256GCM, EncXC20P:
		return 32
	default:
		return 0
	}
}

// KeyWrapAlg is the closed set of "alg" values for key-wrapping a CEK to a
// recipient, per spec §6.
type KeyWrapAlg string

const (
	AlgECDHES1PUA256KW KeyWrapAlg = "ECDH-1PU+A256KW" // authcrypt
	AlgECDHESA256KW     KeyWrapAlg = "ECDH-ES+A256KW"  // anoncrypt
)

// SignAlg is the closed set of JWS "alg" values this engine verifies and
// produces, per spec §6.
type SignAlg string

const (
	SignEdDSA  SignAlg = "EdDSA"
	SignES256  SignAlg = "ES256"
	SignES256K SignAlg = "ES256K"
)

// generateCEK returns fresh random key bytes sized for enc.
func generateCEK(enc ContentEncAlg) ([]byte, error) {
	size := enc.keySize()
	if size == 0 {
		return nil, &ErrUnsupportedCrypto{Enc: string(enc)}
	}
	cek := make([]byte, size)
	if _, err := rand.Read(cek); err != nil {
		return nil, err
	}
	return cek, nil
}

// contentEncrypt seals plaintext under cek with aad as associated data,
// returning (iv, ciphertext, tag) the way the wire envelope splits them.
func contentEncrypt(enc ContentEncAlg, cek, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	switch enc {
	case EncA256GCM:
		return gcmEncrypt(cek, plaintext, aad)
	case EncXC20P:
		return xchachaEncrypt(cek, plaintext, aad)
	case EncA256CBCHS512:
		return cbcHS512Encrypt(cek, plaintext, aad)
	default:
		return nil, nil, nil, &ErrUnsupportedCrypto{Enc: string(enc)}
	}
}

// contentDecrypt is the inverse of contentEncrypt.
func contentDecrypt(enc ContentEncAlg, cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	switch enc {
	case EncA256GCM:
		return gcmDecrypt(cek, iv, ciphertext, tag, aad)
	case EncXC20P:
		return xchachaDecrypt(cek, iv, ciphertext, tag, aad)
	case EncA256CBCHS512:
		return cbcHS512Decrypt(cek, iv, ciphertext, tag, aad)
	default:
		return nil, &ErrUnsupportedCrypto{Enc: string(enc)}
	}
}

func gcmEncrypt(key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, err
	}
	iv = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, aad)
	ciphertext = sealed[:len(sealed)-gcm.Overhead()]
	tag = sealed[len(sealed)-gcm.Overhead():]
	return iv, ciphertext, tag, nil
}

func gcmDecrypt(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	pt, err := gcm.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, &ErrVerificationFailed{Reason: "A256GCM tag mismatch"}
	}
	return pt, nil
}

func xchachaEncrypt(key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, nil, err
	}
	iv = make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, err
	}
	sealed := aead.Seal(nil, iv, plaintext, aad)
	ciphertext = sealed[:len(sealed)-aead.Overhead()]
	tag = sealed[len(sealed)-aead.Overhead():]
	return iv, ciphertext, tag, nil
}

func xchachaDecrypt(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	pt, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, &ErrVerificationFailed{Reason: "XC20P tag mismatch"}
	}
	return pt, nil
}

// cbcHS512Encrypt implements AES-256-CBC with HMAC-SHA-512 authentication,
// per JWE's A256CBC-HS512 (RFC 7518 §5.2.3): the 64-byte CEK splits into a
// 32-byte MAC key (first half) and a 32-byte encryption key (second half).
func cbcHS512Encrypt(cek, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	if len(cek) != 64 {
		return nil, nil, nil, &ErrUnsupportedCrypto{Enc: string(EncA256CBCHS512)}
	}
	macKey, encKey := cek[:32], cek[32:]
	iv = make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, nil, nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	tag = cbcHS512Tag(macKey, aad, iv, ciphertext)
	return iv, ciphertext, tag, nil
}

func cbcHS512Decrypt(cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(cek) != 64 {
		return nil, &ErrUnsupportedCrypto{Enc: string(EncA256CBCHS512)}
	}
	macKey, encKey := cek[:32], cek[32:]
	want := cbcHS512Tag(macKey, aad, iv, ciphertext)
	if !hmac.Equal(want, tag) {
		return nil, &ErrVerificationFailed{Reason: "A256CBC-HS512 tag mismatch"}
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, &ErrMalformedEnvelope{Reason: "ciphertext not block-aligned"}
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func cbcHS512Tag(macKey, aad, iv, ciphertext []byte) []byte {
	al := make([]byte, 8)
	binary.BigEndian.PutUint64(al, uint64(len(aad))*8)
	mac := hmac.New(sha512.New, macKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(al)
	return mac.Sum(nil)[:32]
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	pad := make([]byte, n)
	for i := range pad {
		pad[i] = byte(n)
	}
	return append(append([]byte{}, b...), pad...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, &ErrMalformedEnvelope{Reason: "empty padded plaintext"}
	}
	n := int(b[len(b)-1])
	if n == 0 || n > len(b) {
		return nil, &ErrMalformedEnvelope{Reason: "invalid PKCS7 padding"}
	}
	return b[:len(b)-n], nil
}

// concatKDF implements NIST SP 800-56A Concat KDF with SHA-256, as used by
// JOSE's ECDH-ES/ECDH-1PU key agreement (RFC 7518 §4.6) to derive a wrap
// key from a shared secret plus fixed algorithm/party info.
func concatKDF(z []byte, keyLenBits int, algID, apu, apv []byte) []byte {
	keyLenBytes := keyLenBits / 8
	h := sha256.New()
	out := make([]byte, 0, keyLenBytes)
	reps := (keyLenBytes + h.Size() - 1) / h.Size()
	otherInfo := concatOtherInfo(algID, apu, apv, keyLenBits)
	for i := 1; i <= reps; i++ {
		h.Reset()
		counter := make([]byte, 4)
		binary.BigEndian.PutUint32(counter, uint32(i))
		h.Write(counter)
		h.Write(z)
		h.Write(otherInfo)
		out = append(out, h.Sum(nil)...)
	}
	return out[:keyLenBytes]
}

func concatOtherInfo(algID, apu, apv []byte, keyLenBits int) []byte {
	var buf []byte
	buf = append(buf, lenPrefixed(algID)...)
	buf = append(buf, lenPrefixed(apu)...)
	buf = append(buf, lenPrefixed(apv)...)
	supPub := make([]byte, 4)
	binary.BigEndian.PutUint32(supPub, uint32(keyLenBits))
	buf = append(buf, supPub...)
	return buf
}

func lenPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

// x25519ECDH performs X25519 Diffie-Hellman, used for both ECDH-ES
// (ephemeral-to-static) and the two ECDH-1PU agreements (ephemeral-to-
// static, static-to-static) per spec §6.
func x25519ECDH(priv, pub []byte) ([]byte, error) {
	z, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return z, nil
}

// generateX25519Ephemeral returns a fresh ephemeral X25519 keypair for
// ECDH-ES/ECDH-1PU, the "epk" the protected header carries.
func generateX25519Ephemeral() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// deriveECDHESKey derives the A256KW wrapping key for anoncrypt: a single
// ephemeral-to-static ECDH followed by Concat KDF (RFC 7518 ECDH-ES).
func deriveECDHESKey(ephemeralPriv, recipientPub, apu, apv []byte) ([]byte, error) {
	z, err := x25519ECDH(ephemeralPriv, recipientPub)
	if err != nil {
		return nil, err
	}
	return concatKDF(z, 256, []byte(AlgECDHESA256KW), apu, apv), nil
}

// deriveECDH1PUKey derives the A256KW wrapping key for authcrypt: Ze
// (ephemeral-to-static, recipient side) concatenated with Zs (sender
// static-to-static) before Concat KDF, per the ECDH-1PU draft spec §6 this
// engine implements for "authcrypt".
func deriveECDH1PUKey(ephemeralPriv, senderStaticPriv, recipientPub, apu, apv []byte) ([]byte, error) {
	ze, err := x25519ECDH(ephemeralPriv, recipientPub)
	if err != nil {
		return nil, err
	}
	zs, err := x25519ECDH(senderStaticPriv, recipientPub)
	if err != nil {
		return nil, err
	}
	z := append(append([]byte{}, ze...), zs...)
	return concatKDF(z, 256, []byte(AlgECDHES1PUA256KW), apu, apv), nil
}

// aesKeyWrap implements RFC 3394 AES Key Wrap, used to wrap the per-message
// CEK under the ECDH-derived key for every recipient.
func aesKeyWrap(kek, cek []byte) ([]byte, error) {
	if len(cek)%8 != 0 {
		return nil, errors.New("aesKeyWrap: key length not a multiple of 8")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	n := len(cek) / 8
	r := make([][]byte, n+1)
	r[0] = []byte{0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6}
	for i := 0; i < n; i++ {
		r[i+1] = append([]byte{}, cek[i*8:(i+1)*8]...)
	}
	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], r[0])
			copy(buf[8:], r[i])
			block.Encrypt(buf, buf)
			t := uint64(n*j + i)
			msb := buf[:8]
			for k := 7; k >= 0 && t > 0; k-- {
				msb[k] ^= byte(t)
				t >>= 8
			}
			r[0] = append([]byte{}, msb...)
			r[i] = append([]byte{}, buf[8:]...)
		}
	}
	out := append([]byte{}, r[0]...)
	for i := 1; i <= n; i++ {
		out = append(out, r[i]...)
	}
	return out, nil
}

// aesKeyUnwrap is the inverse of aesKeyWrap.
func aesKeyUnwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, errors.New("aesKeyUnwrap: malformed wrapped key")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	n := len(wrapped)/8 - 1
	a := append([]byte{}, wrapped[:8]...)
	r := make([][]byte, n+1)
	for i := 1; i <= n; i++ {
		r[i] = append([]byte{}, wrapped[i*8:(i+1)*8]...)
	}
	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			for k := 7; k >= 0 && t > 0; k-- {
				a[k] ^= byte(t)
				t >>= 8
			}
			copy(buf[:8], a)
			copy(buf[8:], r[i])
			block.Decrypt(buf, buf)
			a = append([]byte{}, buf[:8]...)
			r[i] = append([]byte{}, buf[8:]...)
		}
	}
	if !hmac.Equal(a, []byte{0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6}) {
		return nil, &ErrVerificationFailed{Reason: "AES key unwrap integrity check failed"}
	}
	out := make([]byte, 0, n*8)
	for i := 1; i <= n; i++ {
		out = append(out, r[i]...)
	}
	return out, nil
}

// sign produces a JWS signature over signingInput with the given key,
// dispatching over the closed SignAlg set (spec §9 "variant dispatch").
func sign(alg SignAlg, priv []byte, signingInput []byte) ([]byte, error) {
	switch alg {
	case SignEdDSA:
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("EdDSA: private key must be %d bytes", ed25519.PrivateKeySize)
		}
		return ed25519.Sign(ed25519.PrivateKey(priv), signingInput), nil
	case SignES256:
		key, err := ecdsaPrivateFromBytes(elliptic.P256(), priv)
		if err != nil {
			return nil, err
		}
		digest := sha256Sum(signingInput)
		r, s, err := ecdsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		return ecdsaSigToJWS(r, s, 32), nil
	case SignES256K:
		key := secp256k1.PrivKeyFromBytes(priv)
		digest := sha256Sum(signingInput)
		sig := secpecdsa.SignCompact(key, digest, false)
		// SignCompact returns [recovery||r||s]; JWS wants raw r||s.
		return sig[1:], nil
	default:
		return nil, &ErrUnsupportedCrypto{Alg: string(alg)}
	}
}

// verify checks a JWS signature, dispatching over the same closed set.
func verify(alg SignAlg, pub []byte, signingInput, sig []byte) error {
	switch alg {
	case SignEdDSA:
		if len(pub) != ed25519.PublicKeySize {
			return &ErrMalformedEnvelope{Reason: "EdDSA public key wrong length"}
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), signingInput, sig) {
			return &ErrVerificationFailed{Reason: "EdDSA signature mismatch"}
		}
		return nil
	case SignES256:
		if len(sig) != 64 {
			return &ErrMalformedEnvelope{Reason: "ES256 signature wrong length"}
		}
		key, err := ecdsaPublicFromBytes(elliptic.P256(), pub)
		if err != nil {
			return err
		}
		digest := sha256Sum(signingInput)
		r, s := jwsToECDSASig(sig)
		if !ecdsa.Verify(key, digest, r, s) {
			return &ErrVerificationFailed{Reason: "ES256 signature mismatch"}
		}
		return nil
	case SignES256K:
		if len(sig) != 64 {
			return &ErrMalformedEnvelope{Reason: "ES256K signature wrong length"}
		}
		key, err := secp256k1.ParsePubKey(pub)
		if err != nil {
			return &ErrMalformedEnvelope{Reason: "ES256K public key: " + err.Error()}
		}
		digest := sha256Sum(signingInput)
		r := new(secp256k1.ModNScalar)
		r.SetByteSlice(sig[:32])
		s := new(secp256k1.ModNScalar)
		s.SetByteSlice(sig[32:])
		parsed := secpecdsa.NewSignature(r, s)
		if !parsed.Verify(digest, key) {
			return &ErrVerificationFailed{Reason: "ES256K signature mismatch"}
		}
		return nil
	default:
		return &ErrUnsupportedCrypto{Alg: string(alg)}
	}
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// ecdsaPrivateFromBytes reconstructs a P-256 private key from its raw
// big-endian scalar, the form ES256 secrets are stored in.
func ecdsaPrivateFromBytes(curve elliptic.Curve, raw []byte) (*ecdsa.PrivateKey, error) {
	key := new(ecdsa.PrivateKey)
	key.Curve = curve
	key.D = new(big.Int).SetBytes(raw)
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(raw)
	return key, nil
}

// ecdsaPublicFromBytes reconstructs a P-256 public key from its
// uncompressed SEC1 point (0x04 || X || Y), or from a bare X||Y pair.
func ecdsaPublicFromBytes(curve elliptic.Curve, raw []byte) (*ecdsa.PublicKey, error) {
	coord := raw
	if len(raw) > 0 && raw[0] == 0x04 {
		coord = raw[1:]
	}
	size := (curve.Params().BitSize + 7) / 8
	if len(coord) != 2*size {
		return nil, &ErrMalformedEnvelope{Reason: "EC public key wrong length"}
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(coord[:size]),
		Y:     new(big.Int).SetBytes(coord[size:]),
	}, nil
}

// ecdsaSigToJWS encodes (r, s) as the fixed-width concatenation JWS
// expects (RFC 7518 §3.4), not the ASN.1 DER form ecdsa.Sign's caller
// might otherwise reach for.
func ecdsaSigToJWS(r, s *big.Int, size int) []byte {
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out
}

func jwsToECDSASig(sig []byte) (*big.Int, *big.Int) {
	half := len(sig) / 2
	return new(big.Int).SetBytes(sig[:half]), new(big.Int).SetBytes(sig[half:])
}
