package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSpanWithoutProvider(t *testing.T) {
	_, span := StartSpan(context.Background(), "noop", attribute.String("table", "people"))
	span.SetAttribute("rows", int64(3))
	span.SetError(nil)
	span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestTracingExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Output = &buf
	cfg.SamplingRate = 1

	require.NoError(t, InitTracing(cfg))

	ctx, parent := StartSpan(context.Background(), "table.write", attribute.String("table", "people"))
	_, child := StartSpan(ctx, "dataset.commit")
	child.SetAttribute("version", uint64(2))
	child.SetError(errors.New("commit conflict"))
	child.End()
	parent.SetError(nil)
	parent.End()

	assert.True(t, parent.SpanContext().IsSampled())
	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())

	require.NoError(t, Shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "table.write")
	assert.Contains(t, out, "dataset.commit")
	assert.Contains(t, out, "commit conflict")
}
