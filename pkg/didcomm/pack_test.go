package didcomm

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/meshcomm/didcomm-mediator/pkg/did"
)

func newX25519Keypair(t *testing.T) (priv, pub []byte) {
	t.Helper()
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		t.Fatal(err)
	}
	var err error
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

func newAgreementDoc(t *testing.T, id, kid string, pub []byte) did.Document {
	t.Helper()
	jwk, err := json.Marshal(struct {
		X string `json:"x"`
	}{X: base64.RawURLEncoding.EncodeToString(pub)})
	if err != nil {
		t.Fatal(err)
	}
	return did.Document{
		ID: id,
		VerificationMethod: []did.VerificationMethod{
			{ID: kid, Type: "JsonWebKey2020", Controller: id, JWK: jwk},
		},
		KeyAgreement: []string{kid},
	}
}

// TestPackUnpackAnoncryptRoundTrip is Testable Property 1 (spec §8):
// pack then unpack returns a Plaintext equal to the original, with no
// sender identity revealed (anoncrypt).
func TestPackUnpackAnoncryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	recipientDID := "did:example:bob"
	recipientKID := recipientDID + "#key-1"
	recipientPriv, recipientPub := newX25519Keypair(t)

	doc := newAgreementDoc(t, recipientDID, recipientKID, recipientPub)
	resolver := did.NewStaticResolver(doc)
	secrets := did.NewMemorySecrets()
	secrets.Put(did.Secret{KID: recipientKID, Type: did.KeyTypeX25519, PrivateKey: recipientPriv})

	body, _ := json.Marshal(map[string]string{"hello": "world"})
	msg := Plaintext{ID: "msg-1", Type: "https://example.org/1.0/ping", Body: body}

	result, err := PackEncrypted(ctx, resolver, secrets, msg, recipientDID, "", PackOpts{})
	if err != nil {
		t.Fatalf("PackEncrypted: %v", err)
	}

	unpacked, err := Unpack(ctx, resolver, secrets, result.Message, time.Now(), UnpackOpts{})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if unpacked.Message.ID != msg.ID || unpacked.Message.Type != msg.Type {
		t.Fatalf("unpacked message mismatch: got %+v", unpacked.Message)
	}
	if unpacked.Metadata.Authenticated {
		t.Fatalf("anoncrypt message reported Authenticated = true")
	}
	if !unpacked.Metadata.AnonymousSender {
		t.Fatalf("anoncrypt message reported AnonymousSender = false")
	}
}

// TestPackUnpackAuthcryptRoundTrip is Testable Property 1's authcrypt case:
// round-trips and reports the sender's kid.
func TestPackUnpackAuthcryptRoundTrip(t *testing.T) {
	ctx := context.Background()

	senderDID := "did:example:alice"
	senderKID := senderDID + "#key-1"
	senderPriv, senderPub := newX25519Keypair(t)
	senderDoc := newAgreementDoc(t, senderDID, senderKID, senderPub)

	recipientDID := "did:example:bob"
	recipientKID := recipientDID + "#key-1"
	recipientPriv, recipientPub := newX25519Keypair(t)
	recipientDoc := newAgreementDoc(t, recipientDID, recipientKID, recipientPub)

	resolver := did.NewStaticResolver(senderDoc, recipientDoc)
	secrets := did.NewMemorySecrets()
	secrets.Put(did.Secret{KID: senderKID, Type: did.KeyTypeX25519, PrivateKey: senderPriv})
	secrets.Put(did.Secret{KID: recipientKID, Type: did.KeyTypeX25519, PrivateKey: recipientPriv})

	body, _ := json.Marshal(map[string]string{"hello": "alice"})
	msg := Plaintext{ID: "msg-2", Type: "https://example.org/1.0/ping", Body: body}

	result, err := PackEncrypted(ctx, resolver, secrets, msg, recipientDID, senderDID, PackOpts{})
	if err != nil {
		t.Fatalf("PackEncrypted: %v", err)
	}

	unpacked, err := Unpack(ctx, resolver, secrets, result.Message, time.Now(), UnpackOpts{})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !unpacked.Metadata.Authenticated {
		t.Fatalf("authcrypt message reported Authenticated = false")
	}
	if unpacked.Metadata.FromKID != senderKID {
		t.Fatalf("FromKID = %q, want %q", unpacked.Metadata.FromKID, senderKID)
	}
}

// TestPackForwardLoopbackShortCircuits is the pack-time half of Testable
// Property 8: when the recipient's sole routing key names this agent's own
// endpoint, forward-wrapping stops and the envelope is emitted unwrapped
// instead of being addressed to itself.
func TestPackForwardLoopbackShortCircuits(t *testing.T) {
	ctx := context.Background()
	recipientDID := "did:example:bob"
	recipientKID := recipientDID + "#key-1"
	recipientPriv, recipientPub := newX25519Keypair(t)

	doc := newAgreementDoc(t, recipientDID, recipientKID, recipientPub)
	doc.Service = []did.Service{{
		ID:              recipientDID + "#didcomm",
		Type:            "DIDCommMessaging",
		ServiceEndpoint: "https://mediator.example",
		RoutingKeys:     []string{"did:example:mediator"},
	}}
	resolver := did.NewStaticResolver(doc)
	secrets := did.NewMemorySecrets()
	secrets.Put(did.Secret{KID: recipientKID, Type: did.KeyTypeX25519, PrivateKey: recipientPriv})

	body, _ := json.Marshal(map[string]string{"hello": "world"})
	msg := Plaintext{ID: "msg-loop", Type: "https://example.org/1.0/ping", Body: body}

	result, err := PackEncrypted(ctx, resolver, secrets, msg, recipientDID, "", PackOpts{
		ForwardThroughRouting: true,
		OwnEndpoints:          []string{"did:example:mediator"},
	})
	if err != nil {
		t.Fatalf("PackEncrypted: %v", err)
	}

	var env EncryptedEnvelope
	if err := json.Unmarshal(result.Message, &env); err != nil {
		t.Fatalf("result.Message is not a JWE: %v", err)
	}
	if len(env.Recipients) != 1 || env.Recipients[0].Header.KID != recipientKID {
		t.Fatalf("expected the envelope addressed directly to %s, not wrapped in a forward", recipientKID)
	}
}

// TestMessageExpired checks that a Plaintext with a past expires_time is
// rejected after decryption.
func TestMessageExpired(t *testing.T) {
	ctx := context.Background()
	recipientDID := "did:example:carol"
	recipientKID := recipientDID + "#key-1"
	recipientPriv, recipientPub := newX25519Keypair(t)
	doc := newAgreementDoc(t, recipientDID, recipientKID, recipientPub)

	resolver := did.NewStaticResolver(doc)
	secrets := did.NewMemorySecrets()
	secrets.Put(did.Secret{KID: recipientKID, Type: did.KeyTypeX25519, PrivateKey: recipientPriv})

	past := time.Now().Add(-time.Hour).Unix()
	body, _ := json.Marshal(map[string]string{"a": "b"})
	msg := Plaintext{ID: "msg-3", Type: "https://example.org/1.0/ping", Body: body, ExpiresTime: &past}

	result, err := PackEncrypted(ctx, resolver, secrets, msg, recipientDID, "", PackOpts{})
	if err != nil {
		t.Fatalf("PackEncrypted: %v", err)
	}

	_, err = Unpack(ctx, resolver, secrets, result.Message, time.Now(), UnpackOpts{})
	if err == nil {
		t.Fatalf("expected expiry error, got nil")
	}
	if _, ok := err.(*ErrMessageExpired); !ok {
		t.Fatalf("expected *ErrMessageExpired, got %T: %v", err, err)
	}
}
