// pkg/keycloak/provide.go
package keycloak

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// -------------------- DI providers --------------------

func ProvideOpenIDClient(cfg Config, log *zap.Logger) *OpenIDClient {
	return NewOpenIDClient(cfg, log.Named("keycloak.openid"))
}

func ProvideKeyCache(cfg Config, oc *OpenIDClient, log *zap.Logger) *KeyCache {
	return NewKeyCache(oc, cfg.KeyTTL, log.Named("keycloak.keys"))
}

func ProvideAuthorizer(cfg Config, keys *KeyCache, oc *OpenIDClient, log *zap.Logger) *Authorizer {
	return NewAuthorizer(keys, oc, cfg.Leeway, log.Named("keycloak.authz"))
}

func ProvideAdminClient(cfg Config, oc *OpenIDClient, log *zap.Logger) *AdminClient {
	return NewAdminClient(cfg, oc, log.Named("keycloak.admin"))
}

var Module = fx.Options(
	fx.Provide(ProvideOpenIDClient),
	fx.Provide(ProvideKeyCache),
	fx.Provide(ProvideAuthorizer),
	fx.Provide(ProvideAdminClient),
)
