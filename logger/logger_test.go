package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHelpersWithoutLogger(t *testing.T) {
	SetLogger(nil)
	assert.NotPanics(t, func() {
		Debug("debug")
		Info("info", String("k", "v"))
		Warn("warn", Int("n", 1))
		Error("error", ErrorField(errors.New("boom")))
		Sync()
	})
}

func TestHelpersWriteFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	Info("track ingested", String("trackId", "t1"), Float64("duration", 12.5), Bool("art", true))
	Warn("skipped", Strings("keys", []string{"a", "b"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "track ingested", entries[0].Message)
	assert.Equal(t, "t1", entries[0].ContextMap()["trackId"])
	assert.Equal(t, 12.5, entries[0].ContextMap()["duration"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, DebugLevel.zapLevel())
	assert.Equal(t, zapcore.ErrorLevel, ErrorLevel.zapLevel())
	assert.Equal(t, zapcore.InfoLevel, LogLevel("verbose").zapLevel())
}
