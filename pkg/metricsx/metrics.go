// Package metricsx owns the Prometheus registry and the counters the identity
// core reports.
package metricsx

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes.
const (
	LoginSuccess      = "success"
	LoginFailed       = "failed"
	LoginLocked       = "locked"
	LoginStepUp       = "step_up"
	LoginSecondFactor = "second_factor_failed"
)

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
	CacheErr  = "error"
)

// Invitation events.
const (
	InvitationCreated  = "created"
	InvitationAccepted = "accepted"
	InvitationRevoked  = "revoked"
	InvitationResent   = "resent"
)

// Metrics groups the collectors. The zero value is not usable; a nil *Metrics
// is, and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	logins      *prometheus.CounterVec
	cache       *prometheus.CounterVec
	invitations *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Subsystem: "rbac",
			Name:      "cache_lookups_total",
			Help:      "Permission cache lookups by result.",
		}, []string{"result"}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Name:      "invitations_total",
			Help:      "Invitation lifecycle events.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins, m.cache, m.invitations,
	)
	return m
}

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CacheLookup(result string) {
	if m != nil {
		m.cache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Invitation(event string) {
	if m != nil {
		m.invitations.WithLabelValues(event).Inc()
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
