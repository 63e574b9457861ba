// pkg/keycloak/ports.go
package keycloak

import (
	"context"
	"net/http"
)

// HTTPDoer is satisfied by *http.Client and allows easy mocking in tests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// KeyFetcher retrieves the realm's signature-verification key material
// (base64 DER, as Keycloak serves it) from the provider.
type KeyFetcher interface {
	FetchSigningKey(ctx context.Context) ([]byte, error)
}

// PermissionEvaluator asks the provider's UMA endpoint whether the token
// grants the given "resource#scope" requirement.
type PermissionEvaluator interface {
	EvaluatePermissions(ctx context.Context, token, requirement string) ([]Permission, error)
}

// Permission is one granted entry in a UMA permission response.
type Permission struct {
	ResourceID   string   `json:"rsid,omitempty"`
	ResourceName string   `json:"rsname"`
	Scopes       []string `json:"scopes"`
}
