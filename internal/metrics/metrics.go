// Package metrics exposes Prometheus counters for the generation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	Generations             *prometheus.CounterVec
	RateLimited             *prometheus.CounterVec
	UpstreamTokens          *prometheus.CounterVec
	CredentialRegistrations *prometheus.CounterVec
	TouchFailures           prometheus.Counter
}

// New registers the counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rdpwizard_generations_total",
			Help: "Streamed generations by action and outcome",
		}, []string{"action", "outcome"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rdpwizard_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"action"}),
		UpstreamTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rdpwizard_upstream_tokens_total",
			Help: "Tokens reported by the AI provider",
		}, []string{"action", "kind"}),
		CredentialRegistrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rdpwizard_credential_registrations_total",
			Help: "Credential registration attempts by result",
		}, []string{"result"}),
		TouchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rdpwizard_credential_touch_failures_total",
			Help: "Failed best-effort last_used_at updates",
		}),
	}
}

func (m *Metrics) GenerationFinished(action, outcome string) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RateLimitHit(action string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(action).Inc()
}

func (m *Metrics) TokensUsed(action string, prompt, completion int) {
	if m == nil {
		return
	}
	m.UpstreamTokens.WithLabelValues(action, "prompt").Add(float64(prompt))
	m.UpstreamTokens.WithLabelValues(action, "completion").Add(float64(completion))
}

func (m *Metrics) CredentialRegistered(result string) {
	if m == nil {
		return
	}
	m.CredentialRegistrations.WithLabelValues(result).Inc()
}

func (m *Metrics) TouchFailed() {
	if m == nil {
		return
	}
	m.TouchFailures.Inc()
}
