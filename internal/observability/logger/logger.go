// Package logger builds the process zap logger and derives request-scoped
// loggers carrying request, correlation, user and trace identifiers.
package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	obscontext "github.com/smallbiznis/entitlementd/internal/observability/context"
	"github.com/smallbiznis/entitlementd/pkg/telemetry/correlation"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string

	// Sampling applies per message per window; zero values pick 100/100/1s.
	SamplingInitial    int
	SamplingThereafter int
	SamplingWindow     time.Duration

	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the process logger, installs it as the zap global and flushes it
// on fx shutdown.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		zapCfg.Encoding = "console"
	}
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	// Sampling is installed below with configurable settings.
	zapCfg.Sampling = nil

	log, err := zapCfg.Build(buildOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	log = log.With(
		zap.String("service", orDefault(cfg.ServiceName, "entitlementd")),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.StopHook(func() {
			_ = log.Sync()
		}))
	}
	return log, nil
}

func buildOptions(cfg Config) []zap.Option {
	opts := []zap.Option{
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewSamplerWithOptions(core,
				orDefaultDuration(cfg.SamplingWindow, time.Second),
				orDefaultInt(cfg.SamplingInitial, 100),
				orDefaultInt(cfg.SamplingThereafter, 100),
			)
		}),
	}
	if cfg.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return opts
}

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds request_id, correlation_id, user_id, trace_id and span_id
// from ctx when present.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	var fields []zap.Field
	for _, kv := range [...][2]string{
		{"request_id", obscontext.RequestIDFromContext(ctx)},
		{"correlation_id", correlation.FromContext(ctx)},
		{"user_id", obscontext.UserIDFromContext(ctx)},
	} {
		if kv[1] != "" {
			fields = append(fields, zap.String(kv[0], kv[1]))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

func orDefault(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}

func orDefaultInt(value, def int) int {
	if value <= 0 {
		return def
	}
	return value
}

func orDefaultDuration(value, def time.Duration) time.Duration {
	if value <= 0 {
		return def
	}
	return value
}
