package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_LevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLogger(zap.New(core))
	ctx := WithRequestID(context.Background(), "rid-1")

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		assert.Equal(t, wantLevels[i], e.Level)
		assert.Equal(t, "rid-1", e.ContextMap()["request_id"])
	}
	assert.EqualValues(t, 2, entries[1].ContextMap()["b"])
}

func TestZapLogger_With(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewZapLogger(zap.New(core)).With("module", "sessions")

	log.Info(context.Background(), "hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "sessions", logs.All()[0].ContextMap()["module"])
}

func TestNew_Backends(t *testing.T) {
	t.Run("slog json", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(&buf, Options{Backend: "slog", Level: "info"})
		require.NoError(t, err)
		l.Debug(context.Background(), "hidden")
		l.Info(context.Background(), "shown", "k", "v")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
		assert.Equal(t, "shown", m["msg"])
		assert.Equal(t, "v", m["k"])
	})

	t.Run("zap json", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(&buf, Options{Backend: "zap", Level: "warn"})
		require.NoError(t, err)
		l.Info(context.Background(), "hidden")
		l.Warn(context.Background(), "shown", "k", "v")

		out := strings.TrimSpace(buf.String())
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &m))
		assert.Equal(t, "shown", m["msg"])
		assert.Equal(t, "WARN", m["level"])
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(&bytes.Buffer{}, Options{Backend: "log4j"})
		require.Error(t, err)
	})
}

func TestNop_DoesNothing(t *testing.T) {
	var l Logger = Nop{}
	l.With("a", 1).Error(context.Background(), "ignored")
}
