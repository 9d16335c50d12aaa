package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracing_DisabledIsNoop(t *testing.T) {
	tr, err := InitTracing(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := tr.StartSpan(context.Background(), "op", attribute.String("shop", "demo"))
	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	End(span, errors.New("ignored"))

	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	_, span := tr.StartSpan(context.Background(), "op")
	End(span, nil)
	assert.NoError(t, tr.Shutdown(context.Background()))
}
