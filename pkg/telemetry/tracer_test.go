package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	tel, err := Init(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.Equal(t, "", TraceID(ctx))
	assert.NoError(t, Shutdown(context.Background()))
}

func TestHeaders_RoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	provider := sdktrace.NewTracerProvider()
	ctx, span := provider.Tracer("test").Start(context.Background(), "produce")
	defer span.End()

	headers := InjectHeaders(ctx, map[string]string{"event_type": "change"})
	assert.Contains(t, headers, "traceparent")
	assert.Equal(t, "change", headers["event_type"])

	out := ExtractHeaders(context.Background(), headers)
	assert.Equal(t, TraceID(ctx), TraceID(out))
}

func TestExtractHeaders_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractHeaders(ctx, nil))
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := provider.Tracer("test").Start(context.Background(), "op")

	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
}
