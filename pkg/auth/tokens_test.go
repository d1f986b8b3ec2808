package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestDecodeTokensNestedShape(t *testing.T) {
	wire := []byte(`{"session_id":"s1","data":{"access_token":"a","refresh_token":"r","access_expires_at":1700000100,"refresh_expires_at":1700003600}}`)
	tok, err := DecodeTokens(wire)
	if err != nil {
		t.Fatalf("DecodeTokens: %v", err)
	}
	if tok.AccessToken != "a" || tok.RefreshToken != "r" {
		t.Fatalf("tokens = %+v, want access=a refresh=r", tok)
	}
	if tok.AccessExpiresAt.Unix() != 1700000100 || tok.RefreshExpiresAt.Unix() != 1700003600 {
		t.Fatalf("unexpected expiries: %+v", tok)
	}
}

func TestDecodeTokensFlatShape(t *testing.T) {
	wire := []byte(`{"access_token":"a","refresh_token":"r","expires_at":"2030-01-01T00:00:00Z"}`)
	tok, err := DecodeTokens(wire)
	if err != nil {
		t.Fatalf("DecodeTokens: %v", err)
	}
	if tok.AccessToken != "a" || tok.RefreshToken != "r" {
		t.Fatalf("tokens = %+v, want access=a refresh=r", tok)
	}
	want, _ := time.Parse(time.RFC3339, "2030-01-01T00:00:00Z")
	if !tok.AccessExpiresAt.Equal(want) {
		t.Fatalf("AccessExpiresAt = %v, want %v", tok.AccessExpiresAt, want)
	}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	token, expiresAt, err := IssueAccessToken(priv, jwt.SigningMethodEdDSA, "did:example:alice", "sess-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if expiresAt.Before(time.Now()) {
		t.Fatalf("expiresAt is in the past")
	}

	claims, err := ParseAndVerify(token, pub, jwt.SigningMethodEdDSA)
	if err != nil {
		t.Fatalf("ParseAndVerify: %v", err)
	}
	if claims.Subject != "did:example:alice" {
		t.Fatalf("Subject = %q, want did:example:alice", claims.Subject)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("SessionID = %q, want sess-1", claims.SessionID)
	}
}

func TestParseAndVerifyRejectsWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)

	token, _, err := IssueAccessToken(priv, jwt.SigningMethodEdDSA, "did:example:alice", "sess-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ParseAndVerify(token, otherPub, jwt.SigningMethodEdDSA); err == nil {
		t.Fatalf("expected verification to fail against the wrong public key")
	}
}

// TestRefreshCheck is Testable Property 5: Ok, Needed, and Expired never
// overlap across the access/refresh expiry boundaries.
func TestRefreshCheck(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name             string
		accessExpiresAt  time.Time
		refreshExpiresAt time.Time
		want             RefreshState
	}{
		{"far from access expiry", now.Add(time.Hour), now.Add(2 * time.Hour), RefreshOk},
		{"inside refresh window", now.Add(RefreshWindow - time.Second), now.Add(time.Hour), RefreshNeeded},
		{"access already expired, refresh still live", now.Add(-time.Minute), now.Add(time.Hour), RefreshNeeded},
		{"refresh also expired", now.Add(-time.Hour), now.Add(-time.Second), RefreshExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := AuthorizationTokens{AccessExpiresAt: tc.accessExpiresAt, RefreshExpiresAt: tc.refreshExpiresAt}
			if got := RefreshCheck(tok, now); got != tc.want {
				t.Fatalf("RefreshCheck() = %v, want %v", got, tc.want)
			}
		})
	}
}
