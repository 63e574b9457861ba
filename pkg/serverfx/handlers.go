// pkg/serverfx/handlers.go
package serverfx

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/joeydtaylor/keystone-core/pkg/codec"
	"github.com/joeydtaylor/keystone-core/pkg/keycloak"
	"github.com/joeydtaylor/keystone-core/pkg/middleware/auth"
)

type passwordGrantRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleWhoami(a *auth.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.GetUser(r.Context()))
	}
}

func handleUserinfo(oc *keycloak.OpenIDClient, zl *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ui, err := oc.GetUserinfo(r.Context(), auth.Token(r.Context()))
		if err != nil {
			zl.Error("userinfo fetch failed", zap.Error(err))
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, ui)
	}
}

func handleToken(oc *keycloak.OpenIDClient, zl *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req passwordGrantRequest
		if !readJSON(w, r, &req) {
			return
		}
		tok, err := oc.PasswordToken(r.Context(), req.Username, req.Password)
		if err != nil {
			zl.Debug("password grant rejected", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, tok)
	}
}

func handleRefresh(oc *keycloak.OpenIDClient, zl *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if !readJSON(w, r, &req) {
			return
		}
		tok, err := oc.RefreshToken(r.Context(), req.RefreshToken)
		if err != nil {
			zl.Debug("refresh grant rejected", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, tok)
	}
}

func handleLogout(oc *keycloak.OpenIDClient, zl *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if !readJSON(w, r, &req) {
			return
		}
		if err := oc.Logout(r.Context(), req.RefreshToken); err != nil {
			zl.Debug("logout failed", zap.Error(err))
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---------- JSON plumbing ----------

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	if err := codec.JSONStrict.Unmarshal(body, v); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := codec.JSONStrict.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", codec.JSONStrict.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
