// Package auth implements the client half of the DID-authentication
// handshake (spec §4.E): challenge fetch, challenge-response signing, and
// the access/refresh token lifecycle that follows it.
package auth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Audience is the fixed JWT "aud" claim every access/refresh token this
// system issues carries: the Affinidi Trust Mediator-style audience tag
// spec §6 names.
const Audience = "ATM"

// AuthorizationTokens is the pair returned by a successful challenge
// response and refreshed thereafter. access_expires_at ≤ refresh_expires_at
// always holds (spec §3 "Authorization Tokens"). Two wire shapes are
// accepted on receive (flat and nested — see the doc comment on
// DecodeTokens below); only the nested shape is ever emitted.
type AuthorizationTokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// nestedTokenWire is the shape the mediator's server emits: {session_id,
// data:{access_token, refresh_token, access_expires_at, ...}}.
type nestedTokenWire struct {
	SessionID string `json:"session_id"`
	Data      struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		AccessExpiresAt  int64  `json:"access_expires_at"`
		RefreshExpiresAt int64  `json:"refresh_expires_at,omitempty"`
	} `json:"data"`
}

// flatTokenWire is an older shape some deployments still emit: a bare
// access_token/expires_at pair with an ISO-8601 expiry instead of a unix
// timestamp.
type flatTokenWire struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

// DecodeTokens parses a /challenge-response or /refresh reply into
// AuthorizationTokens, accepting either this package's nested wire shape
// or the older flat one a deployment might still emit. The flat shape
// carries no refresh_expires_at, so RefreshExpiresAt is left zero and
// RefreshCheck treats it as already expired — a flat-shaped reply is
// expected to come from a server that doesn't support refresh at all.
func DecodeTokens(wire json.RawMessage) (AuthorizationTokens, error) {
	var nested nestedTokenWire
	if err := json.Unmarshal(wire, &nested); err == nil && nested.Data.AccessToken != "" {
		return AuthorizationTokens{
			AccessToken:      nested.Data.AccessToken,
			RefreshToken:     nested.Data.RefreshToken,
			AccessExpiresAt:  time.Unix(nested.Data.AccessExpiresAt, 0),
			RefreshExpiresAt: time.Unix(nested.Data.RefreshExpiresAt, 0),
		}, nil
	}

	var flat flatTokenWire
	if err := json.Unmarshal(wire, &flat); err != nil {
		return AuthorizationTokens{}, fmt.Errorf("decode tokens: %w", err)
	}
	if flat.AccessToken == "" {
		return AuthorizationTokens{}, fmt.Errorf("decode tokens: no access_token in %s", wire)
	}
	expiresAt, err := time.Parse(time.RFC3339, flat.ExpiresAt)
	if err != nil {
		return AuthorizationTokens{}, fmt.Errorf("decode tokens: parse expires_at: %w", err)
	}
	return AuthorizationTokens{
		AccessToken:     flat.AccessToken,
		RefreshToken:    flat.RefreshToken,
		AccessExpiresAt: expiresAt,
	}, nil
}

// Claims is the JWT payload this package issues and verifies.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id,omitempty"`
}

// IssueAccessToken signs a short-lived access token for sub (the
// authenticated DID), expiring after ttl.
func IssueAccessToken(signingKey any, alg jwt.SigningMethod, sub, sessionID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(alg, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAndVerify verifies an access or refresh token against verifyKey and
// returns its claims, rejecting anything not addressed to Audience.
func ParseAndVerify(tokenString string, verifyKey any, alg jwt.SigningMethod) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != alg.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return verifyKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == Audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, fmt.Errorf("token audience mismatch")
	}
	return claims, nil
}

// RefreshState is the three-way classification RefreshCheck produces,
// Testable Property 5 of spec §8: a token is Ok, in need of Refresh, or
// already Expired, and these three never overlap.
type RefreshState int

const (
	RefreshOk RefreshState = iota
	RefreshNeeded
	RefreshExpired
)

// RefreshWindow is how far ahead of access-token expiry a still-valid
// token is proactively refreshed (spec §4.E "authenticate", §8 Testable
// Property 5).
const RefreshWindow = 5 * time.Second

// RefreshCheck classifies tok against now, spec §8 Testable Property 5:
//
//	now < access_expires_at − RefreshWindow              => Ok
//	access_expires_at − RefreshWindow <= now < refresh_expires_at => Refresh
//	refresh_expires_at <= now                            => Expired
//
// These three regions never overlap.
func RefreshCheck(tok AuthorizationTokens, now time.Time) RefreshState {
	if !now.Before(tok.RefreshExpiresAt) {
		return RefreshExpired
	}
	if !now.Before(tok.AccessExpiresAt.Add(-RefreshWindow)) {
		return RefreshNeeded
	}
	return RefreshOk
}
