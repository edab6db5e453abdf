package tracing

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	obscontext "github.com/smallbiznis/entitlementd/internal/observability/context"
)

const tracerName = "entitlementd/http"

// GinMiddleware starts a server span per request, continuing any W3C trace
// context sent by the caller. Spans are renamed to the matched route once the
// handler returns and carry the entitlement user and billing provider.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(parent, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(requestAttributes(c)...)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)

		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			span.RecordError(lastErr.Err)
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func requestAttributes(c *gin.Context) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("http.method", c.Request.Method)}
	if requestID := obscontext.RequestIDFromContext(c.Request.Context()); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if userID := obscontext.UserIDFromContext(c.Request.Context()); userID != "" {
		attrs = append(attrs, attribute.String("entitlement.user_id", userID))
	}
	if provider := c.Param("provider"); provider != "" {
		attrs = append(attrs, attribute.String("billing.provider", provider))
	}
	return attrs
}
