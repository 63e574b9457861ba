// pkg/serverfx/module.go
package serverfx

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/keystone-core/pkg/config"
	"github.com/joeydtaylor/keystone-core/pkg/keycloak"
	"github.com/joeydtaylor/keystone-core/pkg/middleware/auth"
	"github.com/joeydtaylor/keystone-core/pkg/middleware/logger"
	"github.com/joeydtaylor/keystone-core/pkg/middleware/metrics"
	"github.com/joeydtaylor/keystone-core/pkg/transport/httpx"
)

// Module is the full auth-gateway assembly: config, realm clients,
// middleware stack, routes, and the HTTP lifecycle. Add app-specific
// fx.Invoke(...) alongside.
func Module() fx.Option {
	return fx.Options(
		config.Module,
		keycloak.Module,
		auth.Module,
		logger.Module,
		fx.Provide(fx.Annotate(metrics.ProvideMetrics, fx.ResultTags(`name:"metrics"`))),
		fx.Provide(httpx.NewChi),
		fx.Provide(fx.Annotate(
			provideRouter,
			fx.ParamTags(``, ``, `name:"metrics"`, ``, ``, ``),
			fx.ResultTags(`name:"app"`),
		)),
		fx.Invoke(registerHooks),
	)
}

// ---------- Router ----------

func provideRouter(
	a *auth.Middleware,
	lm *logger.Middleware,
	/* name:"metrics" */ m http.Handler,
	oc *keycloak.OpenIDClient,
	r httpx.Router,
	zl *zap.Logger,
) http.Handler {
	r.Use(chimd.RequestID, chimd.Recoverer, chimd.Heartbeat("/ping"))
	r.Use(a.Middleware())
	r.Use(lm.Middleware(a))
	r.Use(metrics.Collect(a))

	r.Mount("/metrics", m)
	r.Get("/healthz", http.HandlerFunc(handleHealthz))
	r.Get("/whoami", a.RequireAuth(handleWhoami(a)))
	r.Get("/userinfo", a.RequireAuth(handleUserinfo(oc, zl)))
	r.Post("/token", handleToken(oc, zl))
	r.Post("/token/refresh", handleRefresh(oc, zl))
	r.Post("/logout", handleLogout(oc, zl))

	return r.Mux()
}

// ---------- Lifecycle ----------

type serverDeps struct {
	fx.In
	Logger *zap.Logger
	Config *config.Config
	App    http.Handler `name:"app"`
}

func registerHooks(lc fx.Lifecycle, d serverDeps) {
	addr := d.Config.Server.ListenAddress
	cert := d.Config.Server.TLSCert
	key := d.Config.Server.TLSKey

	srv := &http.Server{
		Addr:         addr,
		Handler:      d.App,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		TLSConfig:    &tls.Config{MinVersion: tls.VersionTLS13, MaxVersion: tls.VersionTLS13},
	}
	useTLS := cert != "" && key != ""

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if useTLS {
				d.Logger.Info("server starting (TLS)", zap.String("addr", addr), zap.String("cert", cert))
				go func() {
					if err := srv.ListenAndServeTLS(cert, key); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			} else {
				d.Logger.Info("server starting (PLAINTEXT)", zap.String("addr", addr))
				go func() {
					srv.TLSConfig = nil
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("server stopping")
			return srv.Shutdown(ctx)
		},
	})
}
