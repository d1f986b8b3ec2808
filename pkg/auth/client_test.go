package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// fakeTransport implements Transport with scripted responses and a call
// counter per method, so tests can assert retry behavior without a real
// network round trip.
type fakeTransport struct {
	challengeErr   error
	challenge      Challenge
	challengeCalls int

	respondErrs  []error // consumed in order, then nil forever
	respondCalls int
	tokens       AuthorizationTokens

	refreshErr   error
	refreshCalls int
	refreshed    AuthorizationTokens
}

func (f *fakeTransport) FetchChallenge(ctx context.Context, did string) (Challenge, error) {
	f.challengeCalls++
	if f.challengeErr != nil {
		return Challenge{}, f.challengeErr
	}
	return f.challenge, nil
}

func (f *fakeTransport) SendChallengeResponse(ctx context.Context, sessionID string, signed json.RawMessage) (AuthorizationTokens, error) {
	idx := f.respondCalls
	f.respondCalls++
	if idx < len(f.respondErrs) && f.respondErrs[idx] != nil {
		return AuthorizationTokens{}, f.respondErrs[idx]
	}
	return f.tokens, nil
}

func (f *fakeTransport) Refresh(ctx context.Context, refreshToken string) (AuthorizationTokens, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return AuthorizationTokens{}, f.refreshErr
	}
	return f.refreshed, nil
}

func noopSigner(ctx context.Context, challenge Challenge) (json.RawMessage, error) {
	return json.RawMessage(`{"signed":true}`), nil
}

func TestClientAuthenticateHappyPath(t *testing.T) {
	want := AuthorizationTokens{AccessToken: "a", RefreshToken: "r", AccessExpiresAt: time.Now().Add(time.Hour), RefreshExpiresAt: time.Now().Add(2 * time.Hour)}
	transport := &fakeTransport{challenge: Challenge{SessionID: "s1", Challenge: "nonce"}, tokens: want}
	c := NewClient("did:example:alice", transport, noopSigner)

	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if c.State() != StateAuthenticated {
		t.Fatalf("state = %v, want StateAuthenticated", c.State())
	}
	if c.Tokens() != want {
		t.Fatalf("tokens = %+v, want %+v", c.Tokens(), want)
	}
}

func TestClientAuthenticateACLDeniedDoesNotRetry(t *testing.T) {
	transport := &fakeTransport{
		challenge:   Challenge{SessionID: "s1", Challenge: "nonce"},
		respondErrs: []error{&ErrACLDenied{DID: "did:example:alice"}},
	}
	c := NewClient("did:example:alice", transport, noopSigner)

	err := c.Authenticate(context.Background())
	if err == nil {
		t.Fatalf("expected an ACL-denied error")
	}
	if _, ok := err.(*ErrACLDenied); !ok {
		t.Fatalf("expected *ErrACLDenied, got %T: %v", err, err)
	}
	if c.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want StateUnauthenticated after ACL denial", c.State())
	}
	if transport.respondCalls != 1 {
		t.Fatalf("SendChallengeResponse called %d times, want exactly 1 (no retry on ACL denial)", transport.respondCalls)
	}
}

func TestClientAuthenticateRetriesTransientFailureThenSucceeds(t *testing.T) {
	want := AuthorizationTokens{AccessToken: "a", RefreshToken: "r", AccessExpiresAt: time.Now().Add(time.Hour), RefreshExpiresAt: time.Now().Add(2 * time.Hour)}
	transport := &fakeTransport{
		challenge:   Challenge{SessionID: "s1", Challenge: "nonce"},
		respondErrs: []error{errors.New("transient network error")},
		tokens:      want,
	}
	c := NewClient("did:example:alice", transport, noopSigner)
	c.backoff = time.Millisecond // keep the test fast

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if c.State() != StateAuthenticated {
		t.Fatalf("state = %v, want StateAuthenticated", c.State())
	}
	if transport.respondCalls < 2 {
		t.Fatalf("SendChallengeResponse called %d times, want at least 2 (one failure, one retry)", transport.respondCalls)
	}
}

func TestClientEnsureFreshRefreshesWhenNeeded(t *testing.T) {
	refreshed := AuthorizationTokens{AccessToken: "a2", RefreshToken: "r2", AccessExpiresAt: time.Now().Add(time.Hour), RefreshExpiresAt: time.Now().Add(2 * time.Hour)}
	transport := &fakeTransport{refreshed: refreshed}
	c := NewClient("did:example:alice", transport, noopSigner)
	c.tokens = AuthorizationTokens{
		AccessToken:      "a1",
		RefreshToken:     "r1",
		AccessExpiresAt:  time.Now().Add(RefreshWindow / 2), // inside the refresh window
		RefreshExpiresAt: time.Now().Add(time.Hour),
	}
	c.state = StateAuthenticated

	if err := c.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if c.State() != StateAuthenticated {
		t.Fatalf("state = %v, want StateAuthenticated after refresh", c.State())
	}
	if c.Tokens() != refreshed {
		t.Fatalf("tokens = %+v, want %+v", c.Tokens(), refreshed)
	}
	if transport.refreshCalls != 1 {
		t.Fatalf("Refresh called %d times, want 1", transport.refreshCalls)
	}
}

func TestClientEnsureFreshReauthenticatesWhenExpired(t *testing.T) {
	want := AuthorizationTokens{AccessToken: "a3", RefreshToken: "r3", AccessExpiresAt: time.Now().Add(time.Hour), RefreshExpiresAt: time.Now().Add(2 * time.Hour)}
	transport := &fakeTransport{
		challenge: Challenge{SessionID: "s1", Challenge: "nonce"},
		tokens:    want,
	}
	c := NewClient("did:example:alice", transport, noopSigner)
	c.tokens = AuthorizationTokens{AccessExpiresAt: time.Now().Add(-time.Hour), RefreshExpiresAt: time.Now().Add(-time.Minute)} // already expired
	c.state = StateAuthenticated

	if err := c.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if c.State() != StateAuthenticated {
		t.Fatalf("state = %v, want StateAuthenticated after re-authenticate", c.State())
	}
	if transport.challengeCalls != 1 {
		t.Fatalf("FetchChallenge called %d times, want 1", transport.challengeCalls)
	}
}
