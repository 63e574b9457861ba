// pkg/keycloak/errors.go
package keycloak

import "errors"

var (
	// ErrKeyUnavailable means the realm signing key could not be obtained
	// and no cached key was usable.
	ErrKeyUnavailable = errors.New("keycloak: signing key unavailable")

	// ErrInvalidToken covers signature, format, and expiry failures during decode.
	ErrInvalidToken = errors.New("keycloak: invalid token")

	// ErrAdminUnavailable means the admin credential exchange failed and no
	// valid admin token is held.
	ErrAdminUnavailable = errors.New("keycloak: admin client unavailable")
)
