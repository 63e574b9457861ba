// pkg/keycloak/claims.go
package keycloak

import "github.com/golang-jwt/jwt/v5"

// RealmAccess carries the realm-wide roles of an access token.
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// ClientAccess carries the roles granted for one registered client.
type ClientAccess struct {
	Roles []string `json:"roles"`
}

// Claims is the decoded, signature-verified payload of a Keycloak access
// token. resource_access is keyed by client id.
type Claims struct {
	jwt.RegisteredClaims
	Scope             string                  `json:"scope,omitempty"`
	PreferredUsername string                  `json:"preferred_username,omitempty"`
	Email             string                  `json:"email,omitempty"`
	AuthorizedParty   string                  `json:"azp,omitempty"`
	RealmAccess       RealmAccess             `json:"realm_access,omitempty"`
	ResourceAccess    map[string]ClientAccess `json:"resource_access,omitempty"`
}

// HasRealmRole reports membership in the realm role set.
func (c *Claims) HasRealmRole(role string) bool {
	for _, r := range c.RealmAccess.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasClientRole reports membership in any client's role set.
func (c *Claims) HasClientRole(role string) bool {
	for _, client := range c.ResourceAccess {
		for _, r := range client.Roles {
			if r == role {
				return true
			}
		}
	}
	return false
}
