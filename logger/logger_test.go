package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestLoggerCaptures(t *testing.T) {
	log := NewTestLogger()
	log.Info("hello %s", "world")
	log.Warn("watch out")
	log.Error("boom")

	entries := log.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, "INFO", entries[0].Severity)
	assert.Equal(t, "hello %s", entries[0].Message)
	assert.Equal(t, []interface{}{"world"}, entries[0].Arguments)
	assert.Equal(t, "WARN", entries[1].Severity)
	assert.Equal(t, "ERROR", entries[2].Severity)
}

func TestConsoleLoggerLevels(t *testing.T) {
	log := NewConsoleLogger(LevelWarn)
	assert.False(t, log.IsLevelEnabled(LevelDebug))
	assert.False(t, log.IsLevelEnabled(LevelInfo))
	assert.True(t, log.IsLevelEnabled(LevelWarn))
	assert.True(t, log.IsLevelEnabled(LevelError))
}

func TestGetLevelFromEnv(t *testing.T) {
	t.Setenv("CATALOG_LOG_LEVEL", "trace")
	assert.Equal(t, LevelTrace, GetLevelFromEnv())
	t.Setenv("CATALOG_LOG_LEVEL", "error")
	assert.Equal(t, LevelError, GetLevelFromEnv())
	t.Setenv("CATALOG_LOG_LEVEL", "bogus")
	assert.Equal(t, LevelInfo, GetLevelFromEnv())
}

func TestWithMetadataReturnsNewLogger(t *testing.T) {
	base := NewConsoleLogger(LevelInfo)
	child := base.With(map[string]interface{}{"component": "cache"})
	assert.NotSame(t, base, child)

	prefixed := child.WithPrefix("[cache]")
	assert.NotSame(t, child, prefixed)
}
