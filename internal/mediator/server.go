package mediator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshcomm/didcomm-mediator/pkg/auth"
	"github.com/meshcomm/didcomm-mediator/pkg/did"
	"github.com/meshcomm/didcomm-mediator/pkg/didcomm"
)

// Server is the mediator's HTTP/WebSocket front door, grounded on the
// teacher's DashboardServer (cmd/blackhole/commands/dashboard.go):
// http.Server plus a CORS middleware plus graceful Shutdown, generalized
// from a process dashboard to the DID-auth + DIDComm message plane.
type Server struct {
	log      *zap.Logger
	http     *http.Server
	sessions SessionStore
	accounts AccountStore
	resolver did.Resolver
	secrets  did.SecretStore
	dispatch *Dispatcher
	stream   *StreamTask

	myDID         string
	signingKey    ed25519.PrivateKey
	verifyKey     ed25519.PublicKey
	accessTTL     time.Duration
	refreshTTL    time.Duration
	challengeTTL  time.Duration
	upgrader      websocket.Upgrader
}

// ServerConfig is what NewServer needs beyond the stores it's handed
// directly; the full viper-backed Config type lives in internal/config
// and is narrowed to this shape by the caller in cmd/mediator.
type ServerConfig struct {
	Addr         string
	MyDID        string
	SigningKey   ed25519.PrivateKey
	VerifyKey    ed25519.PublicKey
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
}

// NewServer wires the mux and every dependency the handlers need.
func NewServer(cfg ServerConfig, log *zap.Logger, resolver did.Resolver, secrets did.SecretStore, accounts AccountStore, sessions SessionStore, dispatcher *Dispatcher, stream *StreamTask) *Server {
	s := &Server{
		log:          log,
		sessions:     sessions,
		accounts:     accounts,
		resolver:     resolver,
		secrets:      secrets,
		dispatch:     dispatcher,
		stream:       stream,
		myDID:        cfg.MyDID,
		signingKey:   cfg.SigningKey,
		verifyKey:    cfg.VerifyKey,
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
		challengeTTL: cfg.ChallengeTTL,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/challenge", s.corsMiddleware(s.handleChallenge))
	mux.HandleFunc("/", s.corsMiddleware(s.handleChallengeResponse))
	mux.HandleFunc("/refresh", s.corsMiddleware(s.handleRefresh))
	mux.HandleFunc("/pickup", s.corsMiddleware(s.handlePickup))
	mux.HandleFunc("/ws", s.handleWebsocket)

	s.http = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.log.Info("mediator listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// handleChallenge implements spec §4.E's /challenge endpoint: given a DID,
// mint a fresh session and nonce, and provision the account if it doesn't
// exist yet ("provisioning-on-challenge").
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DID string `json:"did"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}

	Provision(s.accounts, req.DID, DefaultACL, 100, 1000)

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	challenge := base64.RawURLEncoding.EncodeToString(nonce)
	sess := Session{
		ID:                   NewSessionID(),
		DID:                  req.DID,
		Challenge:            challenge,
		State:                "challenge_fetched",
		ChallengeRequestedAt: time.Now(),
	}
	s.sessions.Put(sess)

	writeJSON(w, auth.Challenge{SessionID: sess.ID, Challenge: challenge})
}

// handleChallengeResponse implements /: verify the signed challenge and
// issue tokens, provisioning the session's account again if it is no
// longer present ("provisioning-on-challenge-response"). A session from
// /challenge is required.
func (s *Server) handleChallengeResponse(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		SessionID string          `json:"session_id"`
		Message   json.RawMessage `json:"signed_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.sessions.Get(req.SessionID)
	if !ok {
		httpError(w, http.StatusUnauthorized, errUnknownSession{})
		return
	}
	if time.Since(sess.ChallengeRequestedAt) > s.challengeTTL {
		httpError(w, http.StatusUnauthorized, errChallengeExpired{})
		return
	}

	result, err := didcomm.Unpack(r.Context(), s.resolver, s.secrets, req.Message, time.Now(), didcomm.UnpackOpts{})
	if err != nil {
		httpError(w, http.StatusUnauthorized, err)
		return
	}
	if result.Metadata.SignFromKID == "" {
		httpError(w, http.StatusUnauthorized, errNotSigned{})
		return
	}
	var body struct {
		Challenge string `json:"challenge"`
	}
	if json.Unmarshal(result.Message.Body, &body) != nil || body.Challenge != sess.Challenge || result.Message.From != sess.DID {
		httpError(w, http.StatusUnauthorized, errChallengeMismatch{})
		return
	}

	account := Provision(s.accounts, sess.DID, DefaultACL, 100, 1000)
	if !AuthenticationCheck(account.ACL) {
		httpError(w, http.StatusForbidden, errACLDenied{did: sess.DID})
		return
	}

	tokens, err := s.issueTokens(sess.DID, sess.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	sess.State = "authenticated"
	sess.RefreshToken = tokens.Data.RefreshToken
	sess.RefreshTokenExpiresAt = time.Now().Add(s.refreshTTL)
	s.sessions.Put(sess)

	writeJSON(w, tokens)
}

// handleRefresh implements /refresh: exchange a still-valid refresh token
// for a new access token. The refresh token and its expiry are returned
// unchanged.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	claims, err := auth.ParseAndVerify(req.RefreshToken, s.verifyKey, jwt.SigningMethodEdDSA)
	if err != nil {
		httpError(w, http.StatusUnauthorized, err)
		return
	}
	sess, ok := s.sessions.Get(claims.SessionID)
	if !ok || sess.RefreshToken != req.RefreshToken || time.Now().After(sess.RefreshTokenExpiresAt) {
		httpError(w, http.StatusUnauthorized, errRefreshInvalid{})
		return
	}
	tokens, err := s.issueTokens(claims.Subject, sess.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	tokens.Data.RefreshToken = sess.RefreshToken
	tokens.Data.RefreshExpiresAt = sess.RefreshTokenExpiresAt.Unix()
	writeJSON(w, tokens)
}

// issueTokens mints an access-token/refresh-token pair, each an EdDSA JWT
// carrying the session id, with access_expires_at ≤ refresh_expires_at
// (spec §3 "Authorization Tokens").
func (s *Server) issueTokens(did, sessionID string) (nestedTokenResponse, error) {
	access, accessExpiresAt, err := auth.IssueAccessToken(s.signingKey, jwt.SigningMethodEdDSA, did, sessionID, s.accessTTL)
	if err != nil {
		return nestedTokenResponse{}, err
	}
	refresh, refreshExpiresAt, err := auth.IssueAccessToken(s.signingKey, jwt.SigningMethodEdDSA, did, sessionID, s.refreshTTL)
	if err != nil {
		return nestedTokenResponse{}, err
	}
	resp := nestedTokenResponse{SessionID: sessionID}
	resp.Data.AccessToken = access
	resp.Data.RefreshToken = refresh
	resp.Data.AccessExpiresAt = accessExpiresAt.Unix()
	resp.Data.RefreshExpiresAt = refreshExpiresAt.Unix()
	return resp, nil
}

// nestedTokenResponse is the wire shape this server always emits, per
// pkg/auth.AuthorizationTokens's doc comment on the two accepted shapes.
type nestedTokenResponse struct {
	SessionID string `json:"session_id"`
	Data      struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		AccessExpiresAt  int64  `json:"access_expires_at"`
		RefreshExpiresAt int64  `json:"refresh_expires_at"`
	} `json:"data"`
}

// handlePickup accepts a packed DIDComm message, authenticates the caller
// via its bearer access token, unpacks, and dispatches it through
// component L.
func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	caller, err := s.authenticateBearer(r)
	if err != nil {
		httpError(w, http.StatusUnauthorized, err)
		return
	}
	var wire json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	result, err := didcomm.Unpack(r.Context(), s.resolver, s.secrets, wire, time.Now(), didcomm.UnpackOpts{UnwrapForward: false})
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.dispatch.Dispatch(r.Context(), caller, result.Metadata.AnonymousSender, result.Message)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, reply)
}

func (s *Server) authenticateBearer(r *http.Request) (string, error) {
	tok := bearerToken(r)
	if tok == "" {
		return "", errMissingBearer{}
	}
	claims, err := auth.ParseAndVerify(tok, s.verifyKey, jwt.SigningMethodEdDSA)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// handleWebsocket upgrades a connection for live delivery, per component
// J / spec §6 "return_route: all". The caller authenticates with the same
// bearer access token used for /pickup, passed as a query parameter
// because the WebSocket handshake carries no custom header on some
// clients.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("access_token")
	claims, err := auth.ParseAndVerify(tok, s.verifyKey, jwt.SigningMethodEdDSA)
	if err != nil {
		httpError(w, http.StatusUnauthorized, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := s.stream.Register(claims.Subject, conn)
	defer s.stream.Unregister(client)
	client.writePump()
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

type errUnknownSession struct{}

func (errUnknownSession) Error() string { return "unknown session" }

type errChallengeExpired struct{}

func (errChallengeExpired) Error() string { return "challenge expired" }

type errNotSigned struct{}

func (errNotSigned) Error() string { return "challenge response was not signed" }

type errChallengeMismatch struct{}

func (errChallengeMismatch) Error() string { return "challenge response does not match the issued challenge" }

type errACLDenied struct{ did string }

func (e errACLDenied) Error() string { return "account " + e.did + " is not permitted to authenticate" }

type errRefreshInvalid struct{}

func (errRefreshInvalid) Error() string { return "refresh token invalid or expired" }

type errMissingBearer struct{}

func (errMissingBearer) Error() string { return "missing bearer token" }
