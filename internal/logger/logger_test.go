package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zap levels.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"":        zapcore.InfoLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("loud")
	require.False(t, ok)
}

// TestContextLogger checks that scoped loggers travel through the context.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := ToContext(context.Background(), New(zapcore.DebugLevel, &buf))
	ctx = WithName(ctx, "partition")
	ctx = WithKV(ctx, "alarm", "alarm1")

	InfoKV(ctx, "update processed", "state", "Active")

	out := buf.String()
	require.Contains(t, out, "partition")
	require.Contains(t, out, "alarm1")
	require.Contains(t, out, "update processed")

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestWithLevel ensures the floor option drops entries below it.
func TestWithLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	l := New(zapcore.DebugLevel, &buf, WithLevel(zap.WarnLevel))
	l.Info("dropped")
	l.Warn("kept")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "kept")
}
