package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the const labels stamped on every series.
type Config struct {
	ServiceName string
	Environment string
}

func (c Config) constLabels() prometheus.Labels {
	serviceName := strings.TrimSpace(c.ServiceName)
	if serviceName == "" {
		serviceName = "entitlementd"
	}
	environment := strings.TrimSpace(c.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{"service": serviceName, "env": environment}
}

// EntitlementMetrics captures reconciliation health signals.
type EntitlementMetrics struct {
	reconciliations    *prometheus.CounterVec
	writes             *prometheus.CounterVec
	conflicts          prometheus.Counter
	revocations        *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	providerCalls      *prometheus.CounterVec
	providerLatency    *prometheus.HistogramVec
	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	rateLimitDenied    *prometheus.CounterVec
	violations         *prometheus.CounterVec
}

var (
	entitlementMetricsOnce sync.Once
	entitlementMetrics     *EntitlementMetrics
)

// Entitlement returns the process-wide entitlement metrics registered on the
// default registerer.
func Entitlement() *EntitlementMetrics {
	return EntitlementWithConfig(Config{})
}

func EntitlementWithConfig(cfg Config) *EntitlementMetrics {
	entitlementMetricsOnce.Do(func() {
		entitlementMetrics = NewEntitlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return entitlementMetrics
}

// NewEntitlementMetrics registers a fresh set of collectors on registerer.
func NewEntitlementMetrics(registerer prometheus.Registerer, cfg Config) *EntitlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	m := &EntitlementMetrics{
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitlement_reconciliations_total",
			Help:        "Reconciliation attempts by signal source and outcome.",
			ConstLabels: constLabels,
		}, []string{"source", "outcome"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitlement_writes_total",
			Help:        "Persisted entitlement writes by decision reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "entitlement_version_conflicts_total",
			Help:        "Conditional writes that lost a version race and were retried.",
			ConstLabels: constLabels,
		}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitlement_revocations_total",
			Help:        "Premium revocations by enforcement path.",
			ConstLabels: constLabels,
		}, []string{"path"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitlement_webhook_events_total",
			Help:        "Webhook deliveries by provider, normalized type and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "event_type", "outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitlement_provider_calls_total",
			Help:        "Billing provider subscription lookups by result.",
			ConstLabels: constLabels,
		}, []string{"provider", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "entitlement_provider_call_duration_seconds",
			Help:        "Billing provider subscription lookup latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"provider"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitlement_provider_breaker_transitions_total",
			Help:        "Circuit breaker state transitions per provider.",
			ConstLabels: constLabels,
		}, []string{"provider", "from", "to"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "entitlement_provider_breaker_open",
			Help:        "1 while the provider circuit breaker is open.",
			ConstLabels: constLabels,
		}, []string{"provider"}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitlement_rate_limit_denied_total",
			Help:        "Requests rejected by the rate limiter.",
			ConstLabels: constLabels,
		}, []string{"endpoint"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitlement_invariant_violations_total",
			Help:        "Invariant violations detected on diagnostic reads.",
			ConstLabels: constLabels,
		}, []string{"rule"}),
	}

	registerer.MustRegister(
		m.reconciliations,
		m.writes,
		m.conflicts,
		m.revocations,
		m.webhookEvents,
		m.providerCalls,
		m.providerLatency,
		m.breakerTransitions,
		m.breakerState,
		m.rateLimitDenied,
		m.violations,
	)
	return m
}

func (m *EntitlementMetrics) IncReconciliation(source, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(source, outcome).Inc()
}

func (m *EntitlementMetrics) IncWrite(reason string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(reason).Inc()
}

func (m *EntitlementMetrics) IncConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *EntitlementMetrics) IncRevocation(path string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(path).Inc()
}

func (m *EntitlementMetrics) IncWebhookEvent(provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(strings.ToLower(provider), eventType, outcome).Inc()
}

// ObserveProviderCall records one provider lookup. result is a short,
// fixed vocabulary such as ok, error or rejected.
func (m *EntitlementMetrics) ObserveProviderCall(provider, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, result).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *EntitlementMetrics) IncBreakerTransition(provider, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(provider, from, to).Inc()
	open := 0.0
	if to == "open" {
		open = 1
	}
	m.breakerState.WithLabelValues(provider).Set(open)
}

func (m *EntitlementMetrics) IncRateLimitDenied(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(endpoint).Inc()
}

func (m *EntitlementMetrics) IncViolation(rule string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(rule).Inc()
}
