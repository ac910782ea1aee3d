package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/actyx/pkg/crypto"
	"github.com/cuemby/actyx/pkg/types"
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errInvalidBearer = errors.New("invalid or expired bearer token")
)

// tokenStore is an in-memory bearer token table. Tokens are opaque
// random strings handed out by loginHandler and checked by
// requireBearer; a node restart invalidates every outstanding token,
// same as the app has to log in again after the node's swarm key or
// identity changes.
type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]tokenEntry
}

type tokenEntry struct {
	appId     string
	issuedAt  time.Time
	expiresAt time.Time
}

func newTokenStore() *tokenStore {
	return &tokenStore{tokens: make(map[string]tokenEntry)}
}

const tokenTTL = 24 * time.Hour

func (s *tokenStore) issue(appId string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.tokens[token] = tokenEntry{appId: appId, issuedAt: now, expiresAt: now.Add(tokenTTL)}
	return token, nil
}

func (s *tokenStore) valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.tokens, token)
		return false
	}
	return true
}

type loginRequest struct {
	Manifest crypto.AppManifest `json:"manifest"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// loginHandler implements the app-manifest-to-bearer-token exchange:
// an app presents the manifest produced by `apps sign`, the facade
// checks its Ed25519 signature, and issues a bearer token scoped to
// that app's id.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &types.InputError{Op: "login", Err: err})
		return
	}

	if err := crypto.VerifyManifest(req.Manifest); err != nil {
		writeError(w, &types.AuthError{Op: "login", Err: err})
		return
	}

	token, err := s.tokens.issue(req.Manifest.AppId)
	if err != nil {
		writeError(w, &types.FatalError{Op: "login", Err: err})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(tokenTTL),
	})
}
