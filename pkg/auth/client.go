package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ClientState is the closed set of states the authentication client state
// machine passes through (spec §4.E): Unauthenticated → ChallengeFetched →
// Authenticated → Refreshing → Expired, with ACL-denied short-circuiting
// straight back to Unauthenticated without a retry.
type ClientState int

const (
	StateUnauthenticated ClientState = iota
	StateChallengeFetched
	StateAuthenticated
	StateRefreshing
	StateExpired
)

func (s ClientState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallengeFetched:
		return "challenge_fetched"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Challenge is the server's /challenge response: a nonce the client signs
// to prove control of its DID's authentication key.
type Challenge struct {
	SessionID string `json:"session_id"`
	Challenge string `json:"challenge"`
}

// Transport is everything the client state machine needs from the wire.
// This module ships no implementation of it; the caller supplies one, and
// tests substitute an in-memory fake.
type Transport interface {
	FetchChallenge(ctx context.Context, did string) (Challenge, error)
	SendChallengeResponse(ctx context.Context, sessionID string, signedMessage json.RawMessage) (AuthorizationTokens, error)
	Refresh(ctx context.Context, refreshToken string) (AuthorizationTokens, error)
}

// Signer produces the signed DIDComm challenge-response message body for
// a given challenge, abstracting over which verification method/algorithm
// the caller's DID document advertises.
type Signer func(ctx context.Context, challenge Challenge) (json.RawMessage, error)

// ErrACLDenied marks a challenge response rejected because the DID is not
// permitted to authenticate (spec §4.E: never retried, unlike a transient
// network failure).
type ErrACLDenied struct {
	DID string
}

func (e *ErrACLDenied) Error() string {
	return fmt.Sprintf("did %s denied by mediator ACL", e.DID)
}

// Client drives the authentication state machine for one DID against one
// mediator.
type Client struct {
	did       string
	transport Transport
	sign      Signer

	state  ClientState
	tokens AuthorizationTokens

	backoff time.Duration
}

// MaxBackoff caps the exponential retry delay at 10 seconds, per spec
// §4.E's stated backoff ceiling.
const MaxBackoff = 10 * time.Second

// NewClient builds a Client in StateUnauthenticated.
func NewClient(did string, transport Transport, sign Signer) *Client {
	return &Client{did: did, transport: transport, sign: sign, state: StateUnauthenticated, backoff: 250 * time.Millisecond}
}

// State reports the client's current position in the handshake.
func (c *Client) State() ClientState { return c.state }

// Authenticate runs the full challenge/response exchange, transitioning
// Unauthenticated → ChallengeFetched → Authenticated. An ACL denial is
// surfaced immediately and the state reset to Unauthenticated without
// retrying; any other transport error is retried with exponential backoff
// capped at MaxBackoff.
func (c *Client) Authenticate(ctx context.Context) error {
	challenge, err := withRetry(ctx, c, func() (Challenge, error) {
		return c.transport.FetchChallenge(ctx, c.did)
	})
	if err != nil {
		return err
	}
	c.state = StateChallengeFetched

	signed, err := c.sign(ctx, challenge)
	if err != nil {
		return fmt.Errorf("sign challenge: %w", err)
	}

	tokens, err := c.transport.SendChallengeResponse(ctx, challenge.SessionID, signed)
	if err != nil {
		if isACLDenied(err) {
			c.state = StateUnauthenticated
			return err
		}
		return c.retrySendResponse(ctx, challenge.SessionID, signed)
	}

	c.tokens = tokens
	c.state = StateAuthenticated
	c.backoff = 250 * time.Millisecond
	return nil
}

// EnsureFresh transitions Authenticated → Refreshing → Authenticated when
// RefreshCheck reports the access token needs renewal, and Authenticated
// → Expired → (re-Authenticate) when it has already expired.
func (c *Client) EnsureFresh(ctx context.Context) error {
	switch RefreshCheck(c.tokens, time.Now()) {
	case RefreshOk:
		return nil
	case RefreshNeeded:
		c.state = StateRefreshing
		tokens, err := c.transport.Refresh(ctx, c.tokens.RefreshToken)
		if err != nil {
			c.state = StateExpired
			return fmt.Errorf("refresh: %w", err)
		}
		c.tokens = tokens
		c.state = StateAuthenticated
		return nil
	default: // RefreshExpired
		c.state = StateExpired
		return c.Authenticate(ctx)
	}
}

// Tokens returns the client's current token pair.
func (c *Client) Tokens() AuthorizationTokens { return c.tokens }

func (c *Client) retrySendResponse(ctx context.Context, sessionID string, signed json.RawMessage) error {
	tokens, err := withRetry(ctx, c, func() (AuthorizationTokens, error) {
		return c.transport.SendChallengeResponse(ctx, sessionID, signed)
	})
	if err != nil {
		return err
	}
	c.tokens = tokens
	c.state = StateAuthenticated
	return nil
}

// withRetry retries fn with exponential backoff capped at MaxBackoff,
// stopping immediately (without retry) on an ACL denial or context
// cancellation.
func withRetry[T any](ctx context.Context, c *Client, fn func() (T, error)) (T, error) {
	var zero T
	attempt := 0
	for {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if isACLDenied(err) {
			return zero, err
		}
		attempt++
		delay := time.Duration(math.Min(
			float64(c.backoff)*math.Pow(2, float64(attempt-1)),
			float64(MaxBackoff),
		))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func isACLDenied(err error) bool {
	_, ok := err.(*ErrACLDenied)
	return ok
}
