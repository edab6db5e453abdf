package observability

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/smallbiznis/entitlementd/internal/observability/logger"
	"github.com/smallbiznis/entitlementd/internal/observability/metrics"
	"github.com/smallbiznis/entitlementd/internal/observability/tracing"
)

// Module provides the process logger, the tracer provider and the metric
// sets used by the HTTP server, the reconciler and the scheduler.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(c Config) logger.Config { return c.Log },
		func(c Config) tracing.Config { return c.Trace },
		func(c Config) metrics.Config { return c.Metrics },
		logger.New,
		tracing.NewProvider,
		metrics.EntitlementWithConfig,
		metrics.SchedulerWithConfig,
		metrics.HTTPWithConfig,
	),
	// Nothing else depends on the provider; force it so its shutdown hook is registered.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
