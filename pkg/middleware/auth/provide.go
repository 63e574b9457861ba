package auth

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/keystone-core/pkg/keycloak"
)

// ProvideAuthentication wires the middleware over the realm authorizer.
func ProvideAuthentication(authz *keycloak.Authorizer, log *zap.Logger) *Middleware {
	return New(authz, os.Getenv("AUTH_DEV_BYPASS") == "true", log.Named("auth"))
}

var Module = fx.Options(
	fx.Provide(ProvideAuthentication),
)
