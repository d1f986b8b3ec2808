package didcomm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meshcomm/didcomm-mediator/pkg/did"
)

// UnpackMetadata reports what unpack actually observed, the inverse of
// PackResult and likewise part of spec §4.C's unpack contract: callers
// need to know whether a message was authenticated, non-repudiable, and
// how many forward hops were peeled off before trusting its contents.
type UnpackMetadata struct {
	Encrypted        bool
	Authenticated     bool
	NonRepudiable     bool
	AnonymousSender   bool
	ReWrappedInForward bool
	EncAlg            ContentEncAlg
	SignAlg           SignAlg
	FromKID           string
	ToKID             string
	SignFromKID       string
	ForwardedFrom     []string
}

// UnpackResult is the fully-open Plaintext plus the trust metadata
// describing how it got that way.
type UnpackResult struct {
	Message  Plaintext
	Metadata UnpackMetadata
}

// UnpackOpts are the caller-selected knobs on Unpack (spec §4.C unpack
// contract's "options").
type UnpackOpts struct {
	// UnwrapForward opts into recursing through a decrypted forward
	// message's inner attachment (spec §4.C unpack step 5: "if the
	// resulting plaintext's type is the forward URI **and** the caller
	// opted in to forward-unwrap"). A mediator ingesting a forward it does
	// not own the inner key for must leave this false — it returns the
	// forward Plaintext itself so the routing handler can take over.
	// Only the final recipient's own unpack call sets this true.
	UnwrapForward bool
}

// Unpack implements the inverse of PackEncrypted: decrypt, verify an
// optional signature, optionally recurse through forward wrappers, and
// check message expiry — the whole pipeline of spec §4.C "Unpack".
func Unpack(ctx context.Context, resolver did.Resolver, secrets did.SecretStore, wire json.RawMessage, now time.Time, opts UnpackOpts) (UnpackResult, error) {
	meta := UnpackMetadata{}
	body := wire
	loops := newLoopDetector()

	for {
		plain, decMeta, err := decryptOnce(ctx, resolver, secrets, body)
		if err != nil {
			return UnpackResult{}, err
		}
		meta.Encrypted = true
		meta.EncAlg = decMeta.EncAlg
		meta.FromKID = decMeta.FromKID
		meta.ToKID = decMeta.ToKID
		meta.Authenticated = decMeta.FromKID != ""
		meta.AnonymousSender = decMeta.FromKID == ""

		var asSigned SignedEnvelope
		var msg Plaintext
		if json.Unmarshal(plain, &asSigned) == nil && len(asSigned.Signatures) > 0 && asSigned.Payload != "" {
			opened, signMeta, err := verifySigned(ctx, resolver, asSigned)
			if err != nil {
				return UnpackResult{}, err
			}
			msg = opened
			meta.NonRepudiable = true
			meta.SignAlg = signMeta.SignAlg
			meta.SignFromKID = signMeta.SignFromKID
		} else if err := json.Unmarshal(plain, &msg); err != nil {
			return UnpackResult{}, &ErrMalformedEnvelope{Reason: "plaintext: " + err.Error()}
		}

		if IsForward(msg) {
			if msg.ExpiresTime != nil && now.Unix() > *msg.ExpiresTime {
				return UnpackResult{}, &ErrMessageExpired{ExpiresTime: *msg.ExpiresTime, Now: now.Unix()}
			}
			if !opts.UnwrapForward {
				return UnpackResult{Message: msg, Metadata: meta}, nil
			}
			next, inner, err := ForwardNext(msg)
			if err != nil {
				return UnpackResult{}, err
			}
			if err := loops.enter(next); err != nil {
				return UnpackResult{}, err
			}
			meta.ReWrappedInForward = true
			meta.ForwardedFrom = append(meta.ForwardedFrom, next)
			body = inner
			continue
		}

		if msg.ExpiresTime != nil && now.Unix() > *msg.ExpiresTime {
			return UnpackResult{}, &ErrMessageExpired{ExpiresTime: *msg.ExpiresTime, Now: now.Unix()}
		}

		return UnpackResult{Message: msg, Metadata: meta}, nil
	}
}

type decryptMeta struct {
	EncAlg  ContentEncAlg
	FromKID string
	ToKID   string
}

// decryptOnce opens exactly one JWE layer using the first recipient entry
// this secret store actually holds a key for (spec §4.C unpack step 2);
// later entries are not tried if that one fails.
func decryptOnce(ctx context.Context, resolver did.Resolver, secrets did.SecretStore, wire json.RawMessage) ([]byte, decryptMeta, error) {
	var env EncryptedEnvelope
	if err := json.Unmarshal(wire, &env); err != nil {
		return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "JWE: " + err.Error()}
	}
	if len(env.Recipients) == 0 {
		return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "JWE has no recipients"}
	}

	header, err := env.ProtectedHeaderOf()
	if err != nil {
		return nil, decryptMeta{}, err
	}

	var chosen *Recipient
	for i := range env.Recipients {
		if secrets.HasSecret(ctx, env.Recipients[i].Header.KID) {
			chosen = &env.Recipients[i]
			break
		}
	}
	if chosen == nil {
		return nil, decryptMeta{}, &did.ErrSecretNotFound{KID: env.RecipientKIDs()[0]}
	}

	mySecret, err := secrets.Secret(ctx, chosen.Header.KID)
	if err != nil {
		return nil, decryptMeta{}, err
	}

	if header.Epk == nil || header.Epk.X == "" {
		return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "missing epk"}
	}
	epkPub, err := base64URLDecodeString(header.Epk.X)
	if err != nil {
		return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "epk.x: " + err.Error()}
	}

	var kek []byte
	var fromKID string
	switch KeyWrapAlg(header.Alg) {
	case AlgECDHESA256KW:
		kek, err = deriveECDHESKey(mySecret.PrivateKey, epkPub, nil, []byte(header.APV))
	case AlgECDHES1PUA256KW:
		if header.SKID == "" {
			return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "ECDH-1PU envelope missing skid"}
		}
		senderDoc, resolveErr := resolver.Resolve(ctx, stripFragment(header.SKID))
		if resolveErr != nil {
			return nil, decryptMeta{}, resolveErr
		}
		senderMethod, ok := senderDoc.VerificationMethodByID(header.SKID)
		if !ok {
			return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "skid not found in sender document"}
		}
		senderPub, keyErr := senderMethod.KeyBytes()
		if keyErr != nil {
			return nil, decryptMeta{}, keyErr
		}
		kek, err = deriveECDH1PURecipientKey(mySecret.PrivateKey, epkPub, senderPub, []byte(header.APU), []byte(header.APV))
		fromKID = header.SKID
	default:
		return nil, decryptMeta{}, &ErrUnsupportedCrypto{Alg: header.Alg}
	}
	if err != nil {
		return nil, decryptMeta{}, err
	}

	encryptedKey, err := base64URLDecodeString(chosen.EncryptedKey)
	if err != nil {
		return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "encrypted_key: " + err.Error()}
	}
	cek, err := aesKeyUnwrap(kek, encryptedKey)
	if err != nil {
		return nil, decryptMeta{}, err
	}

	iv, err := base64URLDecodeString(env.IV)
	if err != nil {
		return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "iv: " + err.Error()}
	}
	ciphertext, err := base64URLDecodeString(env.CipherText)
	if err != nil {
		return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "ciphertext: " + err.Error()}
	}
	tag, err := base64URLDecodeString(env.Tag)
	if err != nil {
		return nil, decryptMeta{}, &ErrMalformedEnvelope{Reason: "tag: " + err.Error()}
	}
	aad := []byte(env.Protected)

	plain, err := contentDecrypt(ContentEncAlg(header.Enc), cek, iv, ciphertext, tag, aad)
	if err != nil {
		return nil, decryptMeta{}, err
	}

	return plain, decryptMeta{EncAlg: ContentEncAlg(header.Enc), FromKID: fromKID, ToKID: chosen.Header.KID}, nil
}

// deriveECDH1PURecipientKey is ECDH-1PU from the recipient's point of
// view: Ze is ephemeral-to-static as before, but Zs is the recipient's
// own static key against the sender's static public key (the mirror of
// deriveECDH1PUKey's Zs computed from the sender's side).
func deriveECDH1PURecipientKey(myPriv, ephPub, senderPub, apu, apv []byte) ([]byte, error) {
	ze, err := x25519ECDH(myPriv, ephPub)
	if err != nil {
		return nil, err
	}
	zs, err := x25519ECDH(myPriv, senderPub)
	if err != nil {
		return nil, err
	}
	z := append(append([]byte{}, ze...), zs...)
	return concatKDF(z, 256, []byte(AlgECDHES1PUA256KW), apu, apv), nil
}

type signMeta struct {
	SignAlg     SignAlg
	SignFromKID string
}

// verifySigned checks a JWS's single signature and returns the decoded
// Plaintext payload, per spec §4.C unpack's "verify non-repudiable
// signature" step.
func verifySigned(ctx context.Context, resolver did.Resolver, env SignedEnvelope) (Plaintext, signMeta, error) {
	if len(env.Signatures) != 1 {
		return Plaintext{}, signMeta{}, &ErrMalformedEnvelope{Reason: "expected exactly one JWS signature"}
	}
	sig := env.Signatures[0]
	headerJSON, err := base64URLDecodeString(sig.Protected)
	if err != nil {
		return Plaintext{}, signMeta{}, &ErrMalformedEnvelope{Reason: "JWS protected: " + err.Error()}
	}
	var header ProtectedHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Plaintext{}, signMeta{}, &ErrMalformedEnvelope{Reason: "JWS protected JSON: " + err.Error()}
	}
	kid := sig.Header.KID
	if kid == "" {
		return Plaintext{}, signMeta{}, &ErrMalformedEnvelope{Reason: "JWS signature missing kid"}
	}
	doc, err := resolver.Resolve(ctx, stripFragment(kid))
	if err != nil {
		return Plaintext{}, signMeta{}, err
	}
	method, ok := doc.VerificationMethodByID(kid)
	if !ok {
		return Plaintext{}, signMeta{}, &ErrMalformedEnvelope{Reason: "signing kid not found in document"}
	}
	pub, err := method.KeyBytes()
	if err != nil {
		return Plaintext{}, signMeta{}, err
	}

	signingInput := []byte(sig.Protected + "." + env.Payload)
	sigBytes, err := base64URLDecodeString(sig.Signature)
	if err != nil {
		return Plaintext{}, signMeta{}, &ErrMalformedEnvelope{Reason: "JWS signature: " + err.Error()}
	}
	if err := verify(SignAlg(header.Alg), pub, signingInput, sigBytes); err != nil {
		return Plaintext{}, signMeta{}, err
	}

	payload, err := base64URLDecodeString(env.Payload)
	if err != nil {
		return Plaintext{}, signMeta{}, &ErrMalformedEnvelope{Reason: "JWS payload: " + err.Error()}
	}
	var msg Plaintext
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Plaintext{}, signMeta{}, &ErrMalformedEnvelope{Reason: "signed plaintext: " + err.Error()}
	}
	return msg, signMeta{SignAlg: SignAlg(header.Alg), SignFromKID: kid}, nil
}
