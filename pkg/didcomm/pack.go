package didcomm

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/meshcomm/didcomm-mediator/pkg/did"
)

// DefaultToKIDsLimit bounds how many recipient keys a single pack call
// will address, per the original pack_encrypted option this engine
// carries forward unchanged (spec §4.C "to_kids_limit").
const DefaultToKIDsLimit = 10

// PackOpts are the optional knobs on PackEncrypted, mirroring the pack
// contract's named options (spec §4.C).
type PackOpts struct {
	// SignFrom, if set, wraps the Plaintext in a non-repudiable JWS using
	// this verification-method kid's signing key before encryption.
	SignFrom string
	// ProtectSender strips `skid`/`apu` from the protected header for
	// authcrypt, trading sender-identity hiding for a slightly smaller
	// anonymity set (spec §4.C "protect_sender").
	ProtectSender bool
	// ForwardThroughRouting enables forward-wrapping via the recipient's
	// resolved routingKeys (spec §4.C "Forward wrapping"). Leave false for
	// direct agent-to-agent delivery with no mediator in between.
	ForwardThroughRouting bool
	// OwnEndpoints is the set of DIDComm endpoint DIDs this agent itself
	// answers to, injected by the caller rather than looked up dynamically
	// (spec §9 "Avoiding cycles"). When forward-wrapping reaches a routing
	// key in this set, wrapping stops there and the accumulated envelope is
	// delivered unwrapped for that hop ("forward loopback" short-circuit).
	OwnEndpoints []string
	// Enc selects the content-encryption algorithm; zero value defaults
	// to A256CBC-HS512.
	Enc ContentEncAlg
	// ToKIDsLimit overrides DefaultToKIDsLimit.
	ToKIDsLimit int
}

// PackResult is what PackEncrypted reports back alongside the wire bytes,
// the metadata spec §4.C's pack contract promises callers.
type PackResult struct {
	Message   json.RawMessage
	ToKIDs    []string
	FromKID   string
	SignByKID string
}

// PackEncrypted implements the full pack pipeline: optional sign, then
// authcrypt or anoncrypt, then forward-wrap through any mediator routing
// keys the recipient's DID Document advertises. This is the primary
// operation of component C (spec §4.C).
func PackEncrypted(ctx context.Context, resolver did.Resolver, secrets did.SecretStore, msg Plaintext, to, from string, opts PackOpts) (PackResult, error) {
	if opts.Enc == "" {
		opts.Enc = EncA256CBCHS512
	}
	if opts.ToKIDsLimit == 0 {
		opts.ToKIDsLimit = DefaultToKIDsLimit
	}
	toDoc, err := resolver.Resolve(ctx, stripFragment(to))
	if err != nil {
		return PackResult{}, err
	}
	recipientMethods := selectRecipientMethods(toDoc, to, opts.ToKIDsLimit)
	if len(recipientMethods) == 0 {
		return PackResult{}, &ErrNoCompatibleCrypto{Reason: "recipient has no keyAgreement verification methods"}
	}

	plaintext := msg
	var signByKID string
	payload, err := json.Marshal(plaintext)
	if err != nil {
		return PackResult{}, err
	}

	if opts.SignFrom != "" {
		signed, err := signPlaintext(ctx, secrets, opts.SignFrom, payload)
		if err != nil {
			return PackResult{}, err
		}
		payload, err = json.Marshal(signed)
		if err != nil {
			return PackResult{}, err
		}
		signByKID = opts.SignFrom
	}

	var fromKID string
	var fromDoc did.Document
	authcrypt := from != ""
	if authcrypt {
		fromDoc, err = resolver.Resolve(ctx, stripFragment(from))
		if err != nil {
			return PackResult{}, err
		}
		fromMethod, ok := pickKeyAgreement(fromDoc, from)
		if !ok {
			return PackResult{}, &ErrNoCompatibleCrypto{Reason: "sender has no keyAgreement verification method"}
		}
		fromKID = fromMethod.ID
	}

	wireBytes, err := sealEnvelope(ctx, secrets, payload, fromKID, recipientMethods, opts)
	if err != nil {
		return PackResult{}, err
	}

	toKIDs := make([]string, len(recipientMethods))
	for i, m := range recipientMethods {
		toKIDs[i] = m.ID
	}

	result := PackResult{Message: wireBytes, ToKIDs: toKIDs, FromKID: fromKID, SignByKID: signByKID}

	if opts.ForwardThroughRouting {
		wrapped, err := forwardWrap(ctx, resolver, secrets, toDoc, to, wireBytes, opts)
		if err != nil {
			return PackResult{}, err
		}
		if wrapped != nil {
			result.Message = wrapped
		}
	}

	return result, nil
}

func selectRecipientMethods(doc did.Document, to string, limit int) []did.VerificationMethod {
	ref, err := did.Parse(to)
	if err == nil && ref.Fragment != "" {
		if m, ok := doc.VerificationMethodByID(to); ok {
			return []did.VerificationMethod{m}
		}
	}
	methods := doc.KeyAgreementMethods()
	if len(methods) > limit {
		methods = methods[:limit]
	}
	return methods
}

func pickKeyAgreement(doc did.Document, from string) (did.VerificationMethod, bool) {
	ref, err := did.Parse(from)
	if err == nil && ref.Fragment != "" {
		return doc.VerificationMethodByID(from)
	}
	methods := doc.KeyAgreementMethods()
	if len(methods) == 0 {
		return did.VerificationMethod{}, false
	}
	return methods[0], true
}

// sealEnvelope performs the actual JWE construction: ephemeral key
// generation, content encryption, and per-recipient CEK wrapping.
func sealEnvelope(ctx context.Context, secrets did.SecretStore, payload []byte, fromKID string, recipients []did.VerificationMethod, opts PackOpts) (json.RawMessage, error) {
	cek, err := generateCEK(opts.Enc)
	if err != nil {
		return nil, err
	}

	ephPriv, ephPub, err := generateX25519Ephemeral()
	if err != nil {
		return nil, err
	}

	alg := AlgECDHESA256KW
	if fromKID != "" {
		alg = AlgECDHES1PUA256KW
	}

	kids := make([]string, len(recipients))
	for i, m := range recipients {
		kids[i] = m.ID
	}
	apv := base64URLEncodeString(sha256Sum([]byte(strings.Join(sortedCopy(kids), "."))))

	header := ProtectedHeader{
		Typ: MediaTypeEncrypted,
		Alg: string(alg),
		Enc: string(opts.Enc),
		Epk: &JWK{Kty: "OKP", Crv: "X25519", X: base64URLEncodeString(ephPub)},
		APV: apv,
	}
	if fromKID != "" && !opts.ProtectSender {
		header.SKID = fromKID
		header.APU = base64URLEncodeString([]byte(fromKID))
	}

	protectedJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	protectedB64 := base64URLEncodeString(protectedJSON)
	aad := []byte(protectedB64)

	iv, ciphertext, tag, err := contentEncrypt(opts.Enc, cek, payload, aad)
	if err != nil {
		return nil, err
	}

	env := EncryptedEnvelope{
		Protected:  protectedB64,
		IV:         base64URLEncodeString(iv),
		CipherText: base64URLEncodeString(ciphertext),
		Tag:        base64URLEncodeString(tag),
	}

	var senderSecret did.Secret
	if fromKID != "" {
		senderSecret, err = secrets.Secret(ctx, fromKID)
		if err != nil {
			return nil, err
		}
	}

	for _, m := range recipients {
		recipPub, err := m.KeyBytes()
		if err != nil {
			return nil, err
		}
		var kek []byte
		if fromKID != "" {
			kek, err = deriveECDH1PUKey(ephPriv, senderSecret.PrivateKey, recipPub, []byte(header.APU), []byte(apv))
		} else {
			kek, err = deriveECDHESKey(ephPriv, recipPub, nil, []byte(apv))
		}
		if err != nil {
			return nil, err
		}
		wrapped, err := aesKeyWrap(kek, cek)
		if err != nil {
			return nil, err
		}
		env.Recipients = append(env.Recipients, Recipient{
			EncryptedKey: base64URLEncodeString(wrapped),
			Header:       RecipientHeader{KID: m.ID},
		})
	}

	return json.Marshal(env)
}

func sortedCopy(s []string) []string {
	out := append([]string{}, s...)
	sort.Strings(out)
	return out
}

func stripFragment(didOrURL string) string {
	ref, err := did.Parse(didOrURL)
	if err != nil {
		return didOrURL
	}
	return ref.DID()
}

// signPlaintext wraps payload in a single-signature JWS, per spec §4.C's
// non-repudiation signing step (applied to the Plaintext, before
// encryption, never to ciphertext).
func signPlaintext(ctx context.Context, secrets did.SecretStore, signByKID string, payload []byte) (SignedEnvelope, error) {
	secret, err := secrets.Secret(ctx, signByKID)
	if err != nil {
		return SignedEnvelope{}, err
	}
	alg, err := signAlgFor(secret.Type)
	if err != nil {
		return SignedEnvelope{}, err
	}
	header := ProtectedHeader{Alg: string(alg)}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return SignedEnvelope{}, err
	}
	protectedB64 := base64URLEncodeString(headerJSON)
	payloadB64 := base64URLEncodeString(payload)
	signingInput := []byte(protectedB64 + "." + payloadB64)

	sigBytes, err := sign(alg, secret.PrivateKey, signingInput)
	if err != nil {
		return SignedEnvelope{}, err
	}

	sig := Signature{Protected: protectedB64, Signature: base64URLEncodeString(sigBytes)}
	sig.Header.KID = signByKID
	return SignedEnvelope{Payload: payloadB64, Signatures: []Signature{sig}}, nil
}

func signAlgFor(kt did.KeyType) (SignAlg, error) {
	switch kt {
	case did.KeyTypeEd25519:
		return SignEdDSA, nil
	case did.KeyTypeP256:
		return SignES256, nil
	case did.KeyTypeSecp256k1:
		return SignES256K, nil
	default:
		return "", &ErrUnsupportedCrypto{Alg: string(kt)}
	}
}

// forwardWrap re-packs wireBytes as a Forward message addressed to each of
// the recipient's advertised routingKeys in turn, innermost first, per
// spec §4.C "Forward wrapping". Returns nil (no wrap) if the recipient
// advertises no DIDCommMessaging service or no routingKeys.
func forwardWrap(ctx context.Context, resolver did.Resolver, secrets did.SecretStore, toDoc did.Document, to string, wireBytes json.RawMessage, opts PackOpts) (json.RawMessage, error) {
	services := toDoc.MessagingServices()
	if len(services) == 0 || len(services[0].RoutingKeys) == 0 {
		return nil, nil
	}
	routingKeys := services[0].RoutingKeys

	next := to
	current := wireBytes
	for i := len(routingKeys) - 1; i >= 0; i-- {
		mediatorDID := stripFragment(routingKeys[i])
		if isOwnEndpoint(mediatorDID, opts.OwnEndpoints) {
			return current, nil
		}

		mediatorDoc, err := resolver.Resolve(ctx, mediatorDID)
		if err != nil {
			return nil, err
		}
		fwd, err := WrapForward(mediatorDID, next, current)
		if err != nil {
			return nil, err
		}
		recipientMethods := selectRecipientMethods(mediatorDoc, mediatorDID, opts.ToKIDsLimit)
		if len(recipientMethods) == 0 {
			return nil, &ErrNoCompatibleCrypto{Reason: "mediator has no keyAgreement verification methods"}
		}
		fwdPayload, err := json.Marshal(fwd)
		if err != nil {
			return nil, err
		}
		wrapped, err := sealEnvelope(ctx, secrets, fwdPayload, "", recipientMethods, opts)
		if err != nil {
			return nil, err
		}
		current = wrapped
		next = mediatorDID
	}
	return current, nil
}

// isOwnEndpoint reports whether endpointDID is in ownEndpoints, the
// forward-loopback check of spec §9 "Avoiding cycles".
func isOwnEndpoint(endpointDID string, ownEndpoints []string) bool {
	for _, e := range ownEndpoints {
		if e == endpointDID {
			return true
		}
	}
	return false
}
