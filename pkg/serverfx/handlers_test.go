package serverfx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joeydtaylor/keystone-core/pkg/keycloak"
)

func testGatewayClient(t *testing.T, tokenOK bool) *keycloak.OpenIDClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/acme/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		if !tokenOK {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(keycloak.Token{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 300, TokenType: "Bearer"})
	})
	mux.HandleFunc("POST /realms/acme/protocol/openid-connect/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return keycloak.NewOpenIDClient(keycloak.Config{
		ServerURL: srv.URL,
		Realm:     "acme",
		ClientID:  "gateway",
		Timeout:   2 * time.Second,
	}, nil)
}

func TestHandleHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleToken(t *testing.T) {
	oc := testGatewayClient(t, true)
	h := handleToken(oc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"username":"jdoe","password":"hunter2"}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tok keycloak.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, "at", tok.AccessToken)
}

func TestHandleTokenRejectsBadGrant(t *testing.T) {
	oc := testGatewayClient(t, false)
	h := handleToken(oc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"username":"jdoe","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleTokenRejectsUnknownFields(t *testing.T) {
	oc := testGatewayClient(t, true)
	h := handleToken(oc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"username":"jdoe","password":"x","extra":true}`))
	rec := httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRefreshAndLogout(t *testing.T) {
	oc := testGatewayClient(t, true)

	req := httptest.NewRequest(http.MethodPost, "/token/refresh", strings.NewReader(`{"refresh_token":"rt"}`))
	rec := httptest.NewRecorder()
	handleRefresh(oc, zap.NewNop())(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/logout", strings.NewReader(`{"refresh_token":"rt"}`))
	rec = httptest.NewRecorder()
	handleLogout(oc, zap.NewNop())(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
