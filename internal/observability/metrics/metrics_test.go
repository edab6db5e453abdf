package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEntitlementMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewEntitlementMetrics(registry, Config{ServiceName: "entitlementd", Environment: "test"})

	m.IncReconciliation("webhook", "updated")
	m.IncReconciliation("webhook", "updated")
	m.IncWrite("activated")
	m.IncWebhookEvent("Stripe", "renewed", "processed")
	m.ObserveProviderCall("stripe", "ok", 120*time.Millisecond)
	m.IncBreakerTransition("stripe", "closed", "open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("webhook", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("activated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("stripe", "renewed", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("stripe", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("stripe")))

	m.IncBreakerTransition("stripe", "open", "half-open")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.breakerState.WithLabelValues("stripe")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *EntitlementMetrics
	assert.NotPanics(t, func() {
		m.IncReconciliation("poll", "unchanged")
		m.IncWrite("renewed")
		m.IncRevocation("enforcer")
		m.IncConflict()
	})
}
