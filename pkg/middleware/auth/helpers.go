package auth

import "context"

type tokenKey struct{}

func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// Token returns the verified raw bearer token, if any. Permission guards
// re-present it to the provider.
func Token(ctx context.Context) string {
	if t, ok := ctx.Value(tokenKey{}).(string); ok {
		return t
	}
	return ""
}

func (m *Middleware) GetUser(ctx context.Context) User {
	if user, ok := ctx.Value(userCtxKey).(User); ok {
		return user
	}
	return User{}
}

func (m *Middleware) IsAuthenticated(ctx context.Context) bool {
	u, ok := ctx.Value(userCtxKey).(User)
	return ok && u.Subject != ""
}

// HasRole checks the context user's decoded roles, realm-wide or under any
// client. It never reaches the network.
func (m *Middleware) HasRole(ctx context.Context, role string) bool {
	u, ok := ctx.Value(userCtxKey).(User)
	if !ok {
		return false
	}
	for _, r := range u.RealmRoles {
		if r == role {
			return true
		}
	}
	for _, roles := range u.ClientRoles {
		for _, r := range roles {
			if r == role {
				return true
			}
		}
	}
	return false
}

func (m *Middleware) HasAnyRole(ctx context.Context, roles []string) bool {
	for _, r := range roles {
		if m.HasRole(ctx, r) {
			return true
		}
	}
	return false
}
