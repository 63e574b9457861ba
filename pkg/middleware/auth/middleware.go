// middleware/auth/middleware.go
package auth

import (
	"go.uber.org/zap"

	"github.com/joeydtaylor/keystone-core/pkg/keycloak"
)

// Middleware authenticates inbound requests with the realm authorizer and
// exposes guard helpers for routes.
type Middleware struct {
	authz     *keycloak.Authorizer
	devBypass bool
	log       *zap.Logger
}

func New(authz *keycloak.Authorizer, devBypass bool, log *zap.Logger) *Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &Middleware{
		authz:     authz,
		devBypass: devBypass,
		log:       log,
	}
}
