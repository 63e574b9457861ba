package auth

// User is the authenticated identity placed on the request context after a
// bearer token verifies.
type User struct {
	Subject     string              `json:"subject"`
	Username    string              `json:"username"`
	Email       string              `json:"email,omitempty"`
	RealmRoles  []string            `json:"realmRoles,omitempty"`
	ClientRoles map[string][]string `json:"clientRoles,omitempty"`
}

type contextKey struct{ name string }

var userCtxKey = &contextKey{"user"}
