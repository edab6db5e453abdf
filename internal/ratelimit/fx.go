package ratelimit

import "go.uber.org/fx"

// Module provides the reconcile limiter; it resolves to nil when rate
// limiting is disabled, which the server treats as unlimited.
var Module = fx.Module("ratelimit",
	fx.Provide(NewReconcileLimiter),
)
