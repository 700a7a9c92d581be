package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/config"
)

func TestSocketpairPipeIsFullDuplex(t *testing.T) {
	t.Parallel()

	a, b, err := socketpairPipe()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	_, err = a.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	_, err = b.Write([]byte("pong"))
	require.NoError(t, err)
	_, err = a.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf))
}

func TestNewLoggerSelectsTextHandler(t *testing.T) {
	t.Parallel()

	lvl := new(slog.LevelVar)
	logger := newLogger(config.LogConfig{Format: "text"}, lvl)
	require.NotNil(t, logger)

	_, isText := logger.Handler().(*slog.TextHandler)
	require.True(t, isText)
}

func TestNewLoggerDefaultsToJSONHandler(t *testing.T) {
	t.Parallel()

	lvl := new(slog.LevelVar)
	logger := newLogger(config.LogConfig{Format: "json"}, lvl)

	_, isJSON := logger.Handler().(*slog.JSONHandler)
	require.True(t, isJSON)
}

func TestNewLoggerHonorsLevelVar(t *testing.T) {
	t.Parallel()

	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelError)
	logger := newLogger(config.LogConfig{Format: "text"}, lvl)

	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, logger.Enabled(context.Background(), slog.LevelError))

	lvl.Set(slog.LevelDebug)
	require.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
