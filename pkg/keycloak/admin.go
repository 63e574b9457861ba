// pkg/keycloak/admin.go
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// adminTokenBuffer is subtracted from the provider-reported lifetime so the
// credential is re-exchanged before it actually expires.
const adminTokenBuffer = 30 * time.Second

// User is a Keycloak admin-API user representation.
type User struct {
	ID            string              `json:"id,omitempty"`
	Username      string              `json:"username,omitempty"`
	Email         string              `json:"email,omitempty"`
	EmailVerified bool                `json:"emailVerified,omitempty"`
	FirstName     string              `json:"firstName,omitempty"`
	LastName      string              `json:"lastName,omitempty"`
	Enabled       bool                `json:"enabled"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

// Role is a realm or client role representation.
type Role struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ClientRole  bool   `json:"clientRole,omitempty"`
	ContainerID string `json:"containerId,omitempty"`
}

// Credential is the payload for password resets.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// AdminClient drives the realm's admin REST API with a service-account
// credential. The credential is exchanged lazily and re-exchanged once its
// lifetime (minus a buffer) has run out; callers never see a stale token.
type AdminClient struct {
	cfg    Config
	openid *OpenIDClient
	http   HTTPDoer
	log    *zap.Logger

	// guarded by mu: {uninitialized: token==""} -> {valid} -> {expired} -> {valid}
	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time

	caches         cacheRegistry
	userByID       *ttlCache
	userByUsername *ttlCache
	userByEmail    *ttlCache
	userSearch     *ttlCache
	clientIDs      *ttlCache
	clientSecrets  *ttlCache
}

// NewAdminClient wires the admin surface over the same realm the openid
// client talks to. Admin features need a confidential client; calls fail
// with ErrAdminUnavailable when no client secret is configured.
func NewAdminClient(cfg Config, openid *OpenIDClient, log *zap.Logger, opts ...AdminOption) *AdminClient {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	a := &AdminClient{
		cfg:    cfg,
		openid: openid,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
			Timeout: timeout,
		},
		log:    log,
		now:    time.Now,
		caches: cacheRegistry{},
	}
	a.userByID = a.caches.register("user_by_id", 5*time.Minute, 100)
	a.userByUsername = a.caches.register("user_by_username", 5*time.Minute, 100)
	a.userByEmail = a.caches.register("user_by_email", 5*time.Minute, 100)
	a.userSearch = a.caches.register("user_search", 30*time.Second, 50)
	a.clientIDs = a.caches.register("client_id", time.Hour, 50)
	a.clientSecrets = a.caches.register("client_secret", time.Hour, 50)

	for _, o := range opts {
		o(a)
	}
	return a
}

type AdminOption func(*AdminClient)

// WithAdminHTTPClient overrides the transport, mainly for tests.
func WithAdminHTTPClient(h HTTPDoer) AdminOption {
	return func(a *AdminClient) { a.http = h }
}

// ClearAllCaches empties every registered cache.
func (a *AdminClient) ClearAllCaches() { a.caches.clearAll() }

// -------------------- credential state machine --------------------

// adminToken returns a currently-valid admin bearer token, exchanging client
// credentials when uninitialized or expired.
func (a *AdminClient) adminToken(ctx context.Context) (string, error) {
	if a.cfg.ClientSecret == "" {
		return "", fmt.Errorf("%w: client secret not configured", ErrAdminUnavailable)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.expiry) {
		return a.token, nil
	}

	tok, err := a.openid.ClientCredentialsToken(ctx)
	if err != nil {
		a.token = ""
		a.expiry = time.Time{}
		a.log.Error("admin credential exchange failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAdminUnavailable, err)
	}

	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = time.Minute
	}
	a.token = tok.AccessToken
	a.expiry = a.now().Add(lifetime - adminTokenBuffer)
	a.log.Debug("admin credential refreshed", zap.Time("expiry", a.expiry))
	return a.token, nil
}

// -------------------- user operations --------------------

// GetUserByID returns the user or (nil, nil) when the provider has no such id.
func (a *AdminClient) GetUserByID(ctx context.Context, userID string) (*User, error) {
	if v, ok := a.userByID.get(userID); ok {
		return v.(*User), nil
	}
	u := &User{}
	found, err := a.getMaybe(ctx, a.adminURL("users", userID), u)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if !found {
		return nil, nil
	}
	a.userByID.set(userID, u)
	return u, nil
}

// GetUserByUsername resolves an exact username to a user, or (nil, nil).
func (a *AdminClient) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	if v, ok := a.userByUsername.get(username); ok {
		return v.(*User), nil
	}
	users, err := a.queryUsers(ctx, url.Values{"username": {username}, "exact": {"true"}})
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	u := &users[0]
	a.userByUsername.set(username, u)
	return u, nil
}

// GetUserByEmail resolves an email to a user, or (nil, nil).
func (a *AdminClient) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if v, ok := a.userByEmail.get(email); ok {
		return v.(*User), nil
	}
	users, err := a.queryUsers(ctx, url.Values{"email": {email}, "exact": {"true"}})
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	u := &users[0]
	a.userByEmail.set(email, u)
	return u, nil
}

// SearchUsers matches the query against username, email, and name fields,
// de-duplicated, capped at maxResults.
func (a *AdminClient) SearchUsers(ctx context.Context, query string, maxResults int) ([]User, error) {
	if maxResults <= 0 {
		maxResults = 100
	}
	cacheKey := query + "#" + strconv.Itoa(maxResults)
	if v, ok := a.userSearch.get(cacheKey); ok {
		return v.([]User), nil
	}

	fields := []string{"username", "email", "firstName", "lastName"}
	seen := map[string]struct{}{}
	var out []User
	for _, f := range fields {
		if len(out) >= maxResults {
			break
		}
		remaining := maxResults - len(out)
		batch, err := a.queryUsers(ctx, url.Values{f: {query}, "max": {strconv.Itoa(remaining)}})
		if err != nil {
			return nil, fmt.Errorf("search users: %w", err)
		}
		for _, u := range batch {
			if _, dup := seen[u.ID]; dup {
				continue
			}
			seen[u.ID] = struct{}{}
			out = append(out, u)
		}
	}
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	a.userSearch.set(cacheKey, out)
	return out, nil
}

// CreateUser creates the user and returns the provider-assigned id.
func (a *AdminClient) CreateUser(ctx context.Context, user User) (string, error) {
	res, err := a.request(ctx, http.MethodPost, a.adminURL("users"), user)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	loc := res.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("create user: no Location header in response")
	}
	return path.Base(loc), nil
}

// UpdateUser applies the representation and drops the user's cache entries.
func (a *AdminClient) UpdateUser(ctx context.Context, userID string, user User) error {
	if err := a.call(ctx, http.MethodPut, a.adminURL("users", userID), user); err != nil {
		return fmt.Errorf("update user %s: %w", userID, err)
	}
	a.invalidateUser(userID, user)
	return nil
}

// DeleteUser removes the user and drops its cache entries.
func (a *AdminClient) DeleteUser(ctx context.Context, userID string) error {
	if err := a.call(ctx, http.MethodDelete, a.adminURL("users", userID), nil); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	a.invalidateUser(userID, User{})
	a.log.Info("user deleted", zap.String("user_id", userID))
	return nil
}

// ResetPassword sets a new password, optionally marked temporary.
func (a *AdminClient) ResetPassword(ctx context.Context, userID, password string, temporary bool) error {
	cred := Credential{Type: "password", Value: password, Temporary: temporary}
	if err := a.call(ctx, http.MethodPut, a.adminURL("users", userID, "reset-password"), cred); err != nil {
		return fmt.Errorf("reset password for %s: %w", userID, err)
	}
	return nil
}

// ClearUserSessions logs the user out of all sessions.
func (a *AdminClient) ClearUserSessions(ctx context.Context, userID string) error {
	if err := a.call(ctx, http.MethodPost, a.adminURL("users", userID, "logout"), nil); err != nil {
		return fmt.Errorf("clear sessions for %s: %w", userID, err)
	}
	return nil
}

func (a *AdminClient) invalidateUser(userID string, u User) {
	a.userByID.delete(userID)
	if u.Username != "" {
		a.userByUsername.delete(u.Username)
	}
	if u.Email != "" {
		a.userByEmail.delete(u.Email)
	}
	a.userSearch.clear()
}

// -------------------- role operations --------------------

// GetUserRoles lists the realm roles mapped to the user.
func (a *AdminClient) GetUserRoles(ctx context.Context, userID string) ([]Role, error) {
	var roles []Role
	if err := a.get(ctx, a.adminURL("users", userID, "role-mappings", "realm"), &roles); err != nil {
		return nil, fmt.Errorf("get user roles: %w", err)
	}
	return roles, nil
}

// GetClientRolesForUser lists the roles the user holds under one client.
func (a *AdminClient) GetClientRolesForUser(ctx context.Context, userID, clientName string) ([]Role, error) {
	clientID, err := a.ClientIDForName(ctx, clientName)
	if err != nil {
		return nil, err
	}
	var roles []Role
	if err := a.get(ctx, a.adminURL("users", userID, "role-mappings", "clients", clientID), &roles); err != nil {
		return nil, fmt.Errorf("get client roles: %w", err)
	}
	return roles, nil
}

// AssignRealmRole maps a realm role onto the user.
func (a *AdminClient) AssignRealmRole(ctx context.Context, userID, roleName string) error {
	role, err := a.GetRealmRole(ctx, roleName)
	if err != nil {
		return err
	}
	if err := a.call(ctx, http.MethodPost, a.adminURL("users", userID, "role-mappings", "realm"), []Role{*role}); err != nil {
		return fmt.Errorf("assign realm role %s: %w", roleName, err)
	}
	return nil
}

// RemoveRealmRole unmaps a realm role from the user.
func (a *AdminClient) RemoveRealmRole(ctx context.Context, userID, roleName string) error {
	role, err := a.GetRealmRole(ctx, roleName)
	if err != nil {
		return err
	}
	if err := a.call(ctx, http.MethodDelete, a.adminURL("users", userID, "role-mappings", "realm"), []Role{*role}); err != nil {
		return fmt.Errorf("remove realm role %s: %w", roleName, err)
	}
	return nil
}

// AssignClientRole maps one of clientName's roles onto the user.
func (a *AdminClient) AssignClientRole(ctx context.Context, userID, clientName, roleName string) error {
	return a.mapClientRole(ctx, http.MethodPost, userID, clientName, roleName)
}

// RemoveClientRole unmaps one of clientName's roles from the user.
func (a *AdminClient) RemoveClientRole(ctx context.Context, userID, clientName, roleName string) error {
	return a.mapClientRole(ctx, http.MethodDelete, userID, clientName, roleName)
}

func (a *AdminClient) mapClientRole(ctx context.Context, method, userID, clientName, roleName string) error {
	clientID, err := a.ClientIDForName(ctx, clientName)
	if err != nil {
		return err
	}
	role := &Role{}
	found, err := a.getMaybe(ctx, a.adminURL("clients", clientID, "roles", roleName), role)
	if err != nil {
		return fmt.Errorf("resolve client role %s: %w", roleName, err)
	}
	if !found {
		return fmt.Errorf("client role %s not found under %s", roleName, clientName)
	}
	if err := a.call(ctx, method, a.adminURL("users", userID, "role-mappings", "clients", clientID), []Role{*role}); err != nil {
		return fmt.Errorf("map client role %s: %w", roleName, err)
	}
	return nil
}

// CreateRealmRole creates a realm role and returns its representation.
func (a *AdminClient) CreateRealmRole(ctx context.Context, roleName, description string) (*Role, error) {
	role := Role{Name: roleName, Description: description}
	if err := a.call(ctx, http.MethodPost, a.adminURL("roles"), role); err != nil {
		return nil, fmt.Errorf("create realm role %s: %w", roleName, err)
	}
	return a.GetRealmRole(ctx, roleName)
}

// DeleteRealmRole removes the realm role.
func (a *AdminClient) DeleteRealmRole(ctx context.Context, roleName string) error {
	if err := a.call(ctx, http.MethodDelete, a.adminURL("roles", roleName), nil); err != nil {
		return fmt.Errorf("delete realm role %s: %w", roleName, err)
	}
	return nil
}

// GetRealmRoles lists all realm roles.
func (a *AdminClient) GetRealmRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := a.get(ctx, a.adminURL("roles"), &roles); err != nil {
		return nil, fmt.Errorf("get realm roles: %w", err)
	}
	return roles, nil
}

// GetRealmRole fetches one realm role by name.
func (a *AdminClient) GetRealmRole(ctx context.Context, roleName string) (*Role, error) {
	role := &Role{}
	if err := a.get(ctx, a.adminURL("roles", roleName), role); err != nil {
		return nil, fmt.Errorf("get realm role %s: %w", roleName, err)
	}
	return role, nil
}

// -------------------- client lookups --------------------

// ClientIDForName resolves a client's clientId (the registered name) to its
// internal uuid.
func (a *AdminClient) ClientIDForName(ctx context.Context, clientName string) (string, error) {
	if v, ok := a.clientIDs.get(clientName); ok {
		return v.(string), nil
	}
	var clients []struct {
		ID       string `json:"id"`
		ClientID string `json:"clientId"`
	}
	u := a.adminURL("clients") + "?clientId=" + url.QueryEscape(clientName)
	if err := a.get(ctx, u, &clients); err != nil {
		return "", fmt.Errorf("resolve client %s: %w", clientName, err)
	}
	if len(clients) == 0 {
		return "", fmt.Errorf("client %s not found", clientName)
	}
	a.clientIDs.set(clientName, clients[0].ID)
	return clients[0].ID, nil
}

// ClientSecret returns the client's current secret.
func (a *AdminClient) ClientSecret(ctx context.Context, clientName string) (string, error) {
	if v, ok := a.clientSecrets.get(clientName); ok {
		return v.(string), nil
	}
	clientID, err := a.ClientIDForName(ctx, clientName)
	if err != nil {
		return "", err
	}
	var secret struct {
		Value string `json:"value"`
	}
	if err := a.get(ctx, a.adminURL("clients", clientID, "client-secret"), &secret); err != nil {
		return "", fmt.Errorf("get client secret: %w", err)
	}
	a.clientSecrets.set(clientName, secret.Value)
	return secret.Value, nil
}

// ServiceAccountID returns the service-account user id of the configured client.
func (a *AdminClient) ServiceAccountID(ctx context.Context) (string, error) {
	clientID, err := a.ClientIDForName(ctx, a.cfg.ClientID)
	if err != nil {
		return "", err
	}
	var user struct {
		ID string `json:"id"`
	}
	if err := a.get(ctx, a.adminURL("clients", clientID, "service-account-user"), &user); err != nil {
		return "", fmt.Errorf("get service account: %w", err)
	}
	return user.ID, nil
}

// -------------------- transport helpers --------------------

func (a *AdminClient) adminURL(parts ...string) string {
	base := strings.TrimRight(a.cfg.ServerURL, "/") + "/admin/realms/" + a.cfg.Realm
	if len(parts) == 0 {
		return base
	}
	return base + "/" + strings.Join(parts, "/")
}

func (a *AdminClient) queryUsers(ctx context.Context, q url.Values) ([]User, error) {
	var users []User
	if err := a.get(ctx, a.adminURL("users")+"?"+q.Encode(), &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (a *AdminClient) request(ctx context.Context, method, u string, body any) (*http.Response, error) {
	token, err := a.adminToken(ctx)
	if err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.http.Do(req)
}

// call issues the request and discards any response body.
func (a *AdminClient) call(ctx context.Context, method, u string, body any) error {
	res, err := a.request(ctx, method, u, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return checkStatus(res)
}

// get decodes a 2xx JSON response into out.
func (a *AdminClient) get(ctx context.Context, u string, out any) error {
	res, err := a.request(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// getMaybe is get with 404 mapped to (false, nil).
func (a *AdminClient) getMaybe(ctx context.Context, u string, out any) (bool, error) {
	res, err := a.request(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := checkStatus(res); err != nil {
		return false, err
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return fmt.Errorf("%s: %s", res.Status, strings.TrimSpace(string(body)))
}
