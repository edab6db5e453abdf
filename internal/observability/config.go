package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/entitlementd/internal/config"
	"github.com/smallbiznis/entitlementd/internal/observability/logger"
	"github.com/smallbiznis/entitlementd/internal/observability/metrics"
	"github.com/smallbiznis/entitlementd/internal/observability/tracing"
)

const defaultServiceName = "entitlementd"

// Config splits the application config into the logger, tracer and metrics
// settings. OTEL_* and LOG_* variables override the application values.
type Config struct {
	Log     logger.Config
	Trace   tracing.Config
	Metrics metrics.Config
}

func LoadConfig(cfg config.Config) Config {
	service := strings.TrimSpace(cfg.AppName)
	if service == "" {
		service = defaultServiceName
	}
	env := envOr("DEPLOYMENT_ENV", cfg.Environment)
	version := envOr("SERVICE_VERSION", cfg.AppVersion)
	level := strings.ToLower(envOr("LOG_LEVEL", cfg.LogLevel))

	protocol := envOr("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))

	out := Config{
		Log: logger.Config{
			ServiceName:   service,
			Environment:   env,
			Version:       version,
			Level:         level,
			Format:        strings.ToLower(envOr("LOG_FORMAT", "json")),
			IncludeCaller: true,
		},
		Trace: tracing.Config{
			Enabled:          enabled(os.Getenv("OTEL_ENABLED")),
			ServiceName:      service,
			ServiceVersion:   version,
			Environment:      env,
			ExporterEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ExporterProtocol: strings.ToLower(protocol),
			SamplingRatio:    samplingRatio(os.Getenv("OTEL_SAMPLING_RATIO"), 0.1),
		},
		Metrics: metrics.Config{
			ServiceName: service,
			Environment: env,
		},
	}
	out.Log.IncludeStackOnError = out.Debug()
	return out
}

// Debug reports whether handler errors are attached to request logs.
func (c Config) Debug() bool {
	if c.Log.Level == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func envOr(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

// samplingRatio falls back to def for values outside [0, 1].
func samplingRatio(raw string, def float64) float64 {
	ratio, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return def
	}
	return ratio
}

func enabled(raw string) bool {
	on, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && on
}
