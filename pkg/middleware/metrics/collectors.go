package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "response_time",
			Help:    "http response time.",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60},
		},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests", Help: "http requests by code, and method"},
		[]string{"code", "method"},
	)

	totalHttpRequestsToUri = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_to_uri", Help: "http requests to uri"},
		[]string{"code", "uri", "method"},
	)

	requestsByAuthState = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_by_auth_state", Help: "http requests by bearer verification state"},
		[]string{"authenticated"},
	)

	authDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_auth_denials", Help: "requests denied with 401 or 403"},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequests,
		totalHttpRequestsToUri,
		requestsByAuthState,
		authDenials,
	)
}
