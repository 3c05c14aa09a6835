// Package metrics holds the Prometheus collectors of the auth service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics groups the service collectors. Build it with New so tests can use
// a private registry.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
	Logouts         *prometheus.CounterVec
	TokenVerifies   *prometheus.CounterVec
	ReuseDetected   prometheus.Counter
	ExpiredDeleted  prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. When reg is nil a fresh registry is
// used.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostauth_login_attempts_total",
			Help: "The total number of login attempts",
		}, []string{"outcome"}),
		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostauth_token_refresh_total",
			Help: "The total number of refresh token rotations",
		}, []string{"outcome"}),
		Logouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostauth_logout_total",
			Help: "The total number of logouts",
		}, []string{"outcome"}),
		TokenVerifies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostauth_access_token_verify_total",
			Help: "The total number of access token verifications",
		}, []string{"outcome"}),
		ReuseDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "hostauth_refresh_token_reuse_total",
			Help: "The total number of rotated refresh tokens presented again",
		}),
		ExpiredDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "hostauth_refresh_tokens_deleted_total",
			Help: "The total number of expired refresh tokens removed by cleanup",
		}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostauth_http_requests_total",
			Help: "The total number of HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hostauth_http_request_duration_seconds",
			Help:    "The HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
