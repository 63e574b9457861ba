package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeydtaylor/keystone-core/pkg/keycloak"
)

type staticKeyFetcher struct{ pemKey []byte }

func (s staticKeyFetcher) FetchSigningKey(ctx context.Context) ([]byte, error) {
	return s.pemKey, nil
}

type stubEvaluator struct{ granted []keycloak.Permission }

func (s stubEvaluator) EvaluatePermissions(ctx context.Context, token, requirement string) ([]keycloak.Permission, error) {
	return s.granted, nil
}

type fixture struct {
	mw   *Middleware
	priv *rsa.PrivateKey
}

func newFixture(t *testing.T, devBypass bool, granted []keycloak.Permission) *fixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	cache := keycloak.NewKeyCache(staticKeyFetcher{pemKey}, time.Hour, nil)
	authz := keycloak.NewAuthorizer(cache, stubEvaluator{granted}, 0, nil)
	return &fixture{mw: New(authz, devBypass, nil), priv: priv}
}

func (f *fixture) token(t *testing.T, claims *keycloak.Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Minute))
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.priv)
	require.NoError(t, err)
	return s
}

func serve(mw *Middleware, final http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mw.Middleware()(final).ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestMiddlewareSetsUserFromBearer(t *testing.T) {
	f := newFixture(t, false, nil)
	token := f.token(t, &keycloak.Claims{
		RegisteredClaims:  jwt.RegisteredClaims{Subject: "u1"},
		PreferredUsername: "jdoe",
		RealmAccess:       keycloak.RealmAccess{Roles: []string{"user"}},
		ResourceAccess:    map[string]keycloak.ClientAccess{"billing-service": {Roles: []string{"payer"}}},
	})

	var got User
	final := func(w http.ResponseWriter, r *http.Request) {
		got = f.mw.GetUser(r.Context())
		assert.Equal(t, token, Token(r.Context()))
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(f.mw, final, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", got.Subject)
	assert.Equal(t, "jdoe", got.Username)
	assert.Equal(t, []string{"user"}, got.RealmRoles)
	assert.Equal(t, []string{"payer"}, got.ClientRoles["billing-service"])
}

func TestMiddlewareRejectsBadBearer(t *testing.T) {
	f := newFixture(t, false, nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := serve(f.mw, okHandler, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewarePassesAnonymous(t *testing.T) {
	f := newFixture(t, false, nil)
	var authenticated bool
	final := func(w http.ResponseWriter, r *http.Request) {
		authenticated = f.mw.IsAuthenticated(r.Context())
		w.WriteHeader(http.StatusOK)
	}
	rec := serve(f.mw, final, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, authenticated)
}

func TestGuards(t *testing.T) {
	f := newFixture(t, false, []keycloak.Permission{{ResourceName: "invoices", Scopes: []string{"read"}}})
	adminToken := f.token(t, &keycloak.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
		RealmAccess:      keycloak.RealmAccess{Roles: []string{"admin"}},
	})

	get := func(h http.HandlerFunc, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return serve(f.mw, h, req)
	}

	t.Run("RequireAuth", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(f.mw.RequireAuth(okHandler), "").Code)
		assert.Equal(t, http.StatusOK, get(f.mw.RequireAuth(okHandler), adminToken).Code)
	})

	t.Run("RequireRole", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(f.mw.RequireRole("admin", okHandler), adminToken).Code)
		assert.Equal(t, http.StatusForbidden, get(f.mw.RequireRole("superadmin", okHandler), adminToken).Code)
		assert.Equal(t, http.StatusUnauthorized, get(f.mw.RequireRole("admin", okHandler), "").Code)
	})

	t.Run("RequireAnyRole", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(f.mw.RequireAnyRole([]string{"nope", "admin"}, okHandler), adminToken).Code)
		assert.Equal(t, http.StatusForbidden, get(f.mw.RequireAnyRole([]string{"nope"}, okHandler), adminToken).Code)
	})

	t.Run("RequirePermission", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(f.mw.RequirePermission("invoices", "read", okHandler), adminToken).Code)
		assert.Equal(t, http.StatusForbidden, get(f.mw.RequirePermission("invoices", "write", okHandler), adminToken).Code)
		assert.Equal(t, http.StatusUnauthorized, get(f.mw.RequirePermission("invoices", "read", okHandler), "").Code)
	})
}

func TestDevBypass(t *testing.T) {
	f := newFixture(t, true, nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Dev-User", "dev")
	req.Header.Set("X-Dev-Roles", "admin, user")

	var got User
	final := func(w http.ResponseWriter, r *http.Request) {
		got = f.mw.GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	}
	rec := serve(f.mw, final, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", got.Username)
	assert.Equal(t, []string{"admin", "user"}, got.RealmRoles)
}

func TestHasRoleOnContextUser(t *testing.T) {
	m := New(nil, false, nil)
	ctx := context.WithValue(context.Background(), userCtxKey, User{
		Subject:     "u1",
		RealmRoles:  []string{"user"},
		ClientRoles: map[string][]string{"billing-service": {"payer"}},
	})

	assert.True(t, m.HasRole(ctx, "user"))
	assert.True(t, m.HasRole(ctx, "payer"))
	assert.False(t, m.HasRole(ctx, "admin"))
	assert.True(t, m.HasAnyRole(ctx, []string{"admin", "payer"}))
	assert.False(t, m.HasAnyRole(ctx, []string{"admin"}))
	assert.False(t, m.HasRole(context.Background(), "user"))
}
