// Package breaker guards provider clients with a circuit breaker and a
// per-call deadline.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/observability/metrics"
)

type Settings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	CallTimeout      time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		CallTimeout:      10 * time.Second,
	}
}

type Client struct {
	provider string
	inner    domain.Client
	cb       *gobreaker.CircuitBreaker[*entdomain.Snapshot]
	timeout  time.Duration
	metrics  *metrics.EntitlementMetrics
	log      *zap.Logger
}

var _ domain.Client = (*Client)(nil)

func New(provider string, inner domain.Client, settings Settings, m *metrics.EntitlementMetrics, log *zap.Logger) *Client {
	defaults := DefaultSettings()
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = defaults.FailureThreshold
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaults.OpenTimeout
	}
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = defaults.CallTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing.breaker").With(zap.String("provider", provider))

	c := &Client{
		provider: provider,
		inner:    inner,
		timeout:  settings.CallTimeout,
		metrics:  m,
		log:      log,
	}
	c.cb = gobreaker.NewCircuitBreaker[*entdomain.Snapshot](gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientSide(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			c.metrics.IncBreakerTransition(name, from.String(), to.String())
		},
	})
	return c
}

// GetSubscription returns domain.ErrUpstreamUnavailable, wrapping the cause,
// for timeouts, transport failures and an open breaker. Answers the provider
// gave on purpose, such as an unknown subscription, pass through unchanged.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*entdomain.Snapshot, error) {
	start := time.Now()
	snap, err := c.cb.Execute(func() (*entdomain.Snapshot, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.inner.GetSubscription(callCtx, subscriptionID)
	})

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
	case isClientSide(err):
		result = "not_found"
	default:
		result = "error"
	}
	c.metrics.ObserveProviderCall(c.provider, result, time.Since(start))

	if err == nil {
		return snap, nil
	}
	if isClientSide(err) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, c.provider, err)
}

// State exposes the breaker state for diagnostics.
func (c *Client) State() string {
	return c.cb.State().String()
}

func isClientSide(err error) bool {
	return errors.Is(err, domain.ErrSubscriptionNotFound) || errors.Is(err, domain.ErrInvalidSubscriptionID)
}
