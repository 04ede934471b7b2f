package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracingUnsupported(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Exporter = "zipkin"
	_, err := InitTracing(cfg)
	assert.Error(t, err)
}

func TestStdoutSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Exporter = "stdout"
	cfg.Writer = &buf

	shutdown, err := InitTracing(cfg)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "job")
	span.SetAttribute("record_type", "event")
	span.SetAttribute("workers", 4)

	err = TraceBatch(ctx, "upload.batch", 10, func(context.Context) error { return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	err = TraceBatch(ctx, "upload.batch", 10, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	span.End(nil)

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, `"Name":"job"`)
	assert.Contains(t, out, "upload.batch")
	assert.Contains(t, out, "boom")
}
