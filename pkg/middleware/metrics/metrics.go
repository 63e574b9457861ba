// middleware/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/joeydtaylor/keystone-core/pkg/middleware/auth"
)

// Collect observes every request: latency, status/method counts, and
// authorization outcomes (401/403 responses count as denials).
func Collect(ca *auth.Middleware) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)
			startTime := time.Now()

			defer func() {
				endTime := time.Since(startTime)
				if r.URL.Path != "/metrics" {
					authenticated := "false"
					if ca != nil && ca.IsAuthenticated(r.Context()) {
						authenticated = "true"
					}
					code := strconv.Itoa(ww.Status())
					uri := r.URL.Path // path only; avoid cardinality explosion
					method := r.Method

					totalHttpRequests.WithLabelValues(code, method).Inc()
					totalHttpRequestsToUri.WithLabelValues(code, uri, method).Inc()
					requestsByAuthState.WithLabelValues(authenticated).Inc()
					if ww.Status() == http.StatusUnauthorized || ww.Status() == http.StatusForbidden {
						authDenials.WithLabelValues(code).Inc()
					}
					responseTime.Observe(endTime.Seconds())
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func NewPromHttpHandler() http.Handler { return promhttp.Handler() }
func ProvideMetrics() http.Handler     { return NewPromHttpHandler() }

var Module = fx.Options(
	fx.Provide(ProvideMetrics),
)
