package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/smallbiznis/entitlementd/pkg/telemetry/correlation"
)

func TestProviderStampsCorrelationID(t *testing.T) {
	provider, err := NewProvider(nil, Config{ServiceName: "entitlementd", SamplingRatio: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	recorder := tracetest.NewSpanRecorder()
	provider.RegisterSpanProcessor(recorder)

	ctx := correlation.WithID(context.Background(), "01HZX")
	_, span := provider.Tracer("test").Start(ctx, "reconcile")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes(), attribute.String("correlation_id", "01HZX"))
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := newExporter("carrier-pigeon", "")
	assert.Error(t, err)
}
