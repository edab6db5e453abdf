package logger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	obscontext "github.com/smallbiznis/entitlementd/internal/observability/context"
	"github.com/smallbiznis/entitlementd/pkg/telemetry/correlation"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier returns the error_type and error_code fields for the
	// last handler error.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware scopes the request context with request, correlation and user
// identifiers, then writes one http_request line when the handler returns.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(scopeRequest(c))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := requestFields(c, route, status, time.Since(start))

		if lastErr := c.Errors.Last(); lastErr != nil {
			errorType, errorCode := "", ""
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Error(lastErr.Err))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(requestLevel(route, status), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func scopeRequest(c *gin.Context) context.Context {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)

	ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
	ctx = correlation.WithID(ctx, correlation.FromHeader(c.Request.Header))
	ctx, cid := correlation.Ensure(ctx)
	c.Header(correlation.HeaderName, cid)

	return obscontext.WithUserID(ctx, strings.TrimSpace(c.Param("user_id")))
}

func requestFields(c *gin.Context, route string, status int, elapsed time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("route", route),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
		zap.Int("bytes_out", max(c.Writer.Size(), 0)),
	}
	if provider := strings.TrimSpace(c.Param("provider")); provider != "" {
		fields = append(fields, zap.String("provider", provider))
	}
	if c.Query("verify") == "true" {
		fields = append(fields, zap.Bool("verify", true))
	}
	return fields
}

// requestLevel keeps health checks at debug and rejected webhooks at warn; a
// provider sending bad signatures is an operator problem, not a client one.
func requestLevel(route string, status int) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case strings.HasPrefix(route, "/webhooks/") && status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
