package auth

import (
	"net/http"
	"strings"
)

// Dev-only user injection via headers when AUTH_DEV_BYPASS=true
func devUserFromHeaders(r *http.Request) User {
	user := r.Header.Get("X-Dev-User")
	if user == "" {
		return User{}
	}
	u := User{
		Subject:  user,
		Username: user,
	}
	if roles := r.Header.Get("X-Dev-Roles"); roles != "" {
		for _, role := range strings.Split(roles, ",") {
			if role = strings.TrimSpace(role); role != "" {
				u.RealmRoles = append(u.RealmRoles, role)
			}
		}
	}
	return u
}
