package keycloak

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpenIDClient(t *testing.T, handler http.Handler) (*OpenIDClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewOpenIDClient(Config{
		ServerURL:    srv.URL,
		Realm:        "acme",
		ClientID:     "gateway",
		ClientSecret: "s3cret",
		Timeout:      2 * time.Second,
	}, nil)
	return c, srv
}

func TestFetchSigningKey(t *testing.T) {
	priv := testRSAKey(t)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(der)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /realms/acme", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"realm":"acme","public_key":%q}`, encoded)
	})

	c, _ := testOpenIDClient(t, mux)
	raw, err := c.FetchSigningKey(context.Background())
	require.NoError(t, err)

	pub, err := parsePublicKey(raw)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&priv.PublicKey))
}

func TestFetchSigningKeyMissingFromRealm(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /realms/acme", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"realm":"acme"}`)
	})
	c, _ := testOpenIDClient(t, mux)
	_, err := c.FetchSigningKey(context.Background())
	assert.Error(t, err)
}

func TestEvaluatePermissions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/acme/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, umaTicketGrant, r.Form.Get("grant_type"))
		assert.Equal(t, "gateway", r.Form.Get("audience"))
		assert.Equal(t, "invoices#read", r.Form.Get("permission"))
		assert.Equal(t, "permissions", r.Form.Get("response_mode"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]Permission{
			{ResourceName: "invoices", Scopes: []string{"read"}},
		})
	})

	c, _ := testOpenIDClient(t, mux)
	granted, err := c.EvaluatePermissions(context.Background(), "tok", "invoices#read")
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, "invoices", granted[0].ResourceName)
	assert.Equal(t, []string{"read"}, granted[0].Scopes)
}

func TestEvaluatePermissionsDeniedStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/acme/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"access_denied"}`, http.StatusForbidden)
	})
	c, _ := testOpenIDClient(t, mux)
	_, err := c.EvaluatePermissions(context.Background(), "tok", "invoices#read")
	assert.Error(t, err)
}

func TestTokenGrants(t *testing.T) {
	var lastForm map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/acme/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		lastForm = map[string]string{}
		for k := range r.Form {
			lastForm[k] = r.Form.Get(k)
		}
		json.NewEncoder(w).Encode(Token{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 300, TokenType: "Bearer"})
	})
	c, _ := testOpenIDClient(t, mux)
	ctx := context.Background()

	tok, err := c.PasswordToken(ctx, "jdoe", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "password", lastForm["grant_type"])
	assert.Equal(t, "jdoe", lastForm["username"])
	assert.Equal(t, "s3cret", lastForm["client_secret"])

	_, err = c.ClientCredentialsToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "client_credentials", lastForm["grant_type"])

	_, err = c.ExchangeCode(ctx, "abc", "https://app/cb")
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", lastForm["grant_type"])
	assert.Equal(t, "https://app/cb", lastForm["redirect_uri"])

	_, err = c.RefreshToken(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", lastForm["grant_type"])
	assert.Equal(t, "rt", lastForm["refresh_token"])
}

func TestUserinfoCached(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /realms/acme/protocol/openid-connect/userinfo", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Userinfo{Subject: "u1", PreferredUsername: "jdoe"})
	})
	c, _ := testOpenIDClient(t, mux)

	for i := 0; i < 3; i++ {
		ui, err := c.GetUserinfo(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "jdoe", ui.PreferredUsername)
	}
	assert.Equal(t, int32(1), hits.Load(), "userinfo is served from cache within its TTL")

	c.ClearCaches()
	_, err := c.GetUserinfo(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestIntrospect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/acme/protocol/openid-connect/token/introspect", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok", r.Form.Get("token"))
		json.NewEncoder(w).Encode(Introspection{Active: true, Subject: "u1"})
	})
	c, _ := testOpenIDClient(t, mux)

	in, err := c.Introspect(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, in.Active)
	assert.Equal(t, "u1", in.Subject)
}

func TestLogout(t *testing.T) {
	var called bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/acme/protocol/openid-connect/logout", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "rt", r.Form.Get("refresh_token"))
		called = true
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := testOpenIDClient(t, mux)
	require.NoError(t, c.Logout(context.Background(), "rt"))
	assert.True(t, called)
}
