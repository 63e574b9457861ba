// pkg/keycloak/authorizer.go
package keycloak

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Authorizer verifies bearer tokens against the cached realm key and answers
// role and permission questions. It holds no per-token state: claims are
// decoded fresh on every call so expiry is always enforced.
type Authorizer struct {
	keys   *KeyCache
	perms  PermissionEvaluator
	leeway time.Duration
	log    *zap.Logger
}

// NewAuthorizer wires the key cache and (optionally nil) permission
// evaluator. leeway is applied to time-based claim checks.
func NewAuthorizer(keys *KeyCache, perms PermissionEvaluator, leeway time.Duration, log *zap.Logger) *Authorizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authorizer{
		keys:   keys,
		perms:  perms,
		leeway: leeway,
		log:    log,
	}
}

// Decode verifies the token's RS256 signature against the current realm key
// and returns its claims. Expired, malformed, or mis-signed tokens fail with
// ErrInvalidToken. A failure to obtain the signing key is surfaced wrapped
// in ErrInvalidToken; errors.Is(err, ErrKeyUnavailable) still matches so
// callers can tell the two apart.
func (a *Authorizer) Decode(ctx context.Context, token string) (*Claims, error) {
	pub, err := a.keys.Key(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	)

	claims := &Claims{}
	tok, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil || !tok.Valid {
		a.log.Debug("token verification failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Validate reports whether the token decodes cleanly. Fail-closed.
func (a *Authorizer) Validate(ctx context.Context, token string) bool {
	_, err := a.Decode(ctx, token)
	return err == nil
}

// HasRole reports whether the token carries the role, either realm-wide or
// under any client. Any decode failure denies.
func (a *Authorizer) HasRole(ctx context.Context, token, role string) bool {
	claims, err := a.Decode(ctx, token)
	if err != nil {
		a.log.Debug("role check denied", zap.String("role", role), zap.Error(err))
		return false
	}
	return claims.HasRealmRole(role) || claims.HasClientRole(role)
}

// HasAnyRole reports whether the token carries at least one of the roles.
// HasAnyRole(t, r) is equivalent to HasRole(t, r[0]) for a single role.
func (a *Authorizer) HasAnyRole(ctx context.Context, token string, roles []string) bool {
	claims, err := a.Decode(ctx, token)
	if err != nil {
		a.log.Debug("role check denied", zap.Strings("roles", roles), zap.Error(err))
		return false
	}
	for _, r := range roles {
		if claims.HasRealmRole(r) || claims.HasClientRole(r) {
			return true
		}
	}
	return false
}

// CheckPermission asks the provider whether the token grants scope on
// resource. The requirement travels as "resource#scope" and the answer is
// accepted only when an entry names the resource exactly and lists the
// scope. Every failure path denies; permission checks never error out.
func (a *Authorizer) CheckPermission(ctx context.Context, token, resource, scope string) bool {
	if a.perms == nil {
		return false
	}
	requirement := fmt.Sprintf("%s#%s", resource, scope)
	granted, err := a.perms.EvaluatePermissions(ctx, token, requirement)
	if err != nil {
		a.log.Debug("permission check denied",
			zap.String("requirement", requirement), zap.Error(err))
		return false
	}
	for _, p := range granted {
		if p.ResourceName != resource {
			continue
		}
		for _, s := range p.Scopes {
			if s == scope {
				return true
			}
		}
	}
	return false
}
