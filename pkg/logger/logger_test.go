package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestForVerbosity(t *testing.T) {
	cfg := ForVerbosity(true, "")
	assert.Equal(t, "console", cfg.Encoding)
	assert.True(t, cfg.Development)
	assert.Equal(t, "info", cfg.Level)

	cfg = ForVerbosity(false, "debug")
	assert.Equal(t, "json", cfg.Encoding)
	assert.False(t, cfg.Development)
	assert.Equal(t, "debug", cfg.Level)
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestWithContextAddsJobFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetGlobal(zap.New(core))
	t.Cleanup(func() { SetGlobal(nil) })

	ctx := ContextWithJob(context.Background(), "run-1", "gcs", "event")
	WithContext(ctx).Info("hello")
	WithContext(context.Background()).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "gcs", fields["storage"])
	assert.Equal(t, "event", fields["record_type"])
	assert.Empty(t, entries[1].ContextMap())
}
