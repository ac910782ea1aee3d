package api

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/crypto"
)

func signedManifest(t *testing.T, appId string) crypto.AppManifest {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	m, err := crypto.SignManifest(crypto.AppManifest{
		AppId:       appId,
		DisplayName: "test app",
		Version:     "1.0.0",
		AppKey:      pub,
	}, priv)
	require.NoError(t, err)
	return m
}

func TestLoginHandlerIssuesTokenForValidManifest(t *testing.T) {
	s := testServer(t)
	m := signedManifest(t, "com.example.app")

	body, err := json.Marshal(loginRequest{Manifest: m})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.loginHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp loginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)
	assert.True(t, s.tokens.valid(resp.Token))
}

func TestLoginHandlerRejectsTamperedManifest(t *testing.T) {
	s := testServer(t)
	m := signedManifest(t, "com.example.app")
	m.DisplayName = "tampered"

	body, err := json.Marshal(loginRequest{Manifest: m})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.loginHandler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var env ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	assert.Equal(t, "ERR_USER_UNAUTHENTICATED", env.Code)
}

func TestRequireBearerRejectsMissingAndInvalidTokens(t *testing.T) {
	s := testServer(t)
	router := s.router()

	req := httptest.NewRequest(http.MethodGet, "/node/info", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/node/info", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireBearerAllowsIssuedToken(t *testing.T) {
	s := testServer(t)
	router := s.router()

	token, err := s.tokens.issue("com.example.app")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/node/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
