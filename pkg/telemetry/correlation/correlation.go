// Package correlation carries the id that ties an inbound webhook delivery
// or API call to the log lines, spans and change events it produces.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

// HeaderName is the header a correlation id travels in between services.
const HeaderName = "X-Correlation-Id"

type ctxKey struct{}

// FromContext returns the correlation id on ctx or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithID stores id on ctx. Blank ids leave ctx untouched.
func WithID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromHeader reads an upstream correlation id from h.
func FromHeader(h http.Header) string {
	if h == nil {
		return ""
	}
	return strings.TrimSpace(h.Get(HeaderName))
}

// Ensure returns ctx carrying a correlation id, minting a ULID when none is
// present yet.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return context.WithValue(ctx, ctxKey{}, id), id
}
