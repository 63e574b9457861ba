// pkg/keycloak/openid.go
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const umaTicketGrant = "urn:ietf:params:oauth:grant-type:uma-ticket"

// Config carries the realm coordinates and client credentials for talking
// to a Keycloak server.
type Config struct {
	ServerURL    string
	Realm        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	KeyTTL       time.Duration
	Leeway       time.Duration
}

// Token is a token-endpoint response.
type Token struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
}

// Userinfo is the subset of the userinfo response the adapter exposes.
type Userinfo struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	EmailVerified     bool   `json:"email_verified,omitempty"`
	Name              string `json:"name,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
}

// Introspection is the provider's view of a token's validity.
type Introspection struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub,omitempty"`
	Username  string `json:"username,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
}

// OpenIDClient speaks the realm's openid-connect endpoints. It implements
// KeyFetcher and PermissionEvaluator for the Authorizer and exposes the
// token-lifecycle operations callers need around it.
type OpenIDClient struct {
	cfg  Config
	http HTTPDoer
	log  *zap.Logger

	caches    cacheRegistry
	userinfo  *ttlCache
	wellKnown *ttlCache
}

// NewOpenIDClient builds a client with a bounded-timeout HTTP client unless
// one is injected via WithHTTPClient.
func NewOpenIDClient(cfg Config, log *zap.Logger, opts ...OpenIDOption) *OpenIDClient {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &OpenIDClient{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
			Timeout: timeout,
		},
		log:    log,
		caches: cacheRegistry{},
	}
	c.userinfo = c.caches.register("userinfo", 30*time.Second, 100)
	c.wellKnown = c.caches.register("well_known", time.Hour, 1)

	for _, o := range opts {
		o(c)
	}
	return c
}

type OpenIDOption func(*OpenIDClient)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(h HTTPDoer) OpenIDOption {
	return func(c *OpenIDClient) { c.http = h }
}

// ClearCaches empties every cache this client registered.
func (c *OpenIDClient) ClearCaches() { c.caches.clearAll() }

// -------------------- endpoints --------------------

func (c *OpenIDClient) realmURL(parts ...string) string {
	base := strings.TrimRight(c.cfg.ServerURL, "/") + "/realms/" + c.cfg.Realm
	if len(parts) == 0 {
		return base
	}
	return base + "/" + strings.Join(parts, "/")
}

func (c *OpenIDClient) tokenURL() string {
	return c.realmURL("protocol", "openid-connect", "token")
}

// -------------------- KeyFetcher --------------------

// FetchSigningKey retrieves the realm's public key. Keycloak serves it as a
// bare base64 DER string in the realm document.
func (c *OpenIDClient) FetchSigningKey(ctx context.Context) ([]byte, error) {
	var realm struct {
		PublicKey string `json:"public_key"`
	}
	if err := c.getJSON(ctx, c.realmURL(), "", &realm); err != nil {
		return nil, fmt.Errorf("realm key fetch: %w", err)
	}
	if realm.PublicKey == "" {
		return nil, fmt.Errorf("realm %s document carries no public_key", c.cfg.Realm)
	}
	return []byte(realm.PublicKey), nil
}

// -------------------- PermissionEvaluator --------------------

// EvaluatePermissions runs a UMA ticket grant in decision-list mode and
// returns the granted permission entries.
func (c *OpenIDClient) EvaluatePermissions(ctx context.Context, token, requirement string) ([]Permission, error) {
	form := url.Values{
		"grant_type":    {umaTicketGrant},
		"audience":      {c.cfg.ClientID},
		"permission":    {requirement},
		"response_mode": {"permissions"},
	}

	var granted []Permission
	if err := c.postFormJSON(ctx, c.tokenURL(), form, token, &granted); err != nil {
		return nil, fmt.Errorf("uma evaluate: %w", err)
	}
	return granted, nil
}

// -------------------- token lifecycle --------------------

// PasswordToken exchanges resource-owner credentials for a token. Prefer the
// authorization-code flow for interactive logins; this grant is for service
// and test use.
func (c *OpenIDClient) PasswordToken(ctx context.Context, username, password string) (*Token, error) {
	return c.grant(ctx, url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	})
}

// ClientCredentialsToken obtains a token for the configured confidential client.
func (c *OpenIDClient) ClientCredentialsToken(ctx context.Context) (*Token, error) {
	return c.grant(ctx, url.Values{"grant_type": {"client_credentials"}})
}

// ExchangeCode swaps an authorization code for a token.
func (c *OpenIDClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	return c.grant(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	})
}

// RefreshToken trades a refresh token for a fresh pair.
func (c *OpenIDClient) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	return c.grant(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (c *OpenIDClient) grant(ctx context.Context, form url.Values) (*Token, error) {
	form.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}
	tok := &Token{}
	if err := c.postFormJSON(ctx, c.tokenURL(), form, "", tok); err != nil {
		return nil, fmt.Errorf("token grant %s: %w", form.Get("grant_type"), err)
	}
	return tok, nil
}

// Logout invalidates the session behind the refresh token.
func (c *OpenIDClient) Logout(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}
	if err := c.postFormJSON(ctx, c.realmURL("protocol", "openid-connect", "logout"), form, "", nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// -------------------- token information --------------------

// GetUserinfo calls the userinfo endpoint. Responses are cached briefly per
// token since middleware tends to ask repeatedly within a request burst.
func (c *OpenIDClient) GetUserinfo(ctx context.Context, token string) (*Userinfo, error) {
	if v, ok := c.userinfo.get(token); ok {
		return v.(*Userinfo), nil
	}
	ui := &Userinfo{}
	if err := c.getJSON(ctx, c.realmURL("protocol", "openid-connect", "userinfo"), token, ui); err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	c.userinfo.set(token, ui)
	return ui, nil
}

// Introspect asks the provider whether the token is active.
func (c *OpenIDClient) Introspect(ctx context.Context, token string) (*Introspection, error) {
	form := url.Values{
		"client_id": {c.cfg.ClientID},
		"token":     {token},
	}
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}
	out := &Introspection{}
	if err := c.postFormJSON(ctx, c.realmURL("protocol", "openid-connect", "token", "introspect"), form, "", out); err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return out, nil
}

// WellKnown fetches the realm's OIDC discovery document, cached for an hour.
func (c *OpenIDClient) WellKnown(ctx context.Context) (map[string]any, error) {
	if v, ok := c.wellKnown.get("discovery"); ok {
		return v.(map[string]any), nil
	}
	doc := map[string]any{}
	if err := c.getJSON(ctx, c.realmURL(".well-known", "openid-configuration"), "", &doc); err != nil {
		return nil, fmt.Errorf("well-known: %w", err)
	}
	c.wellKnown.set("discovery", doc)
	return doc, nil
}

// -------------------- transport helpers --------------------

func (c *OpenIDClient) getJSON(ctx context.Context, u, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.do(req, out)
}

func (c *OpenIDClient) postFormJSON(ctx context.Context, u string, form url.Values, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.do(req, out)
}

func (c *OpenIDClient) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, res.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
