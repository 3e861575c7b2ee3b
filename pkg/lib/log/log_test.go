package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	cfg := parseEnv("registry/updater=debug, ddata=warn ,error", "JSON")

	assert.Equal(t, slog.LevelError, cfg.defaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.levelFor("registry/updater"))
	assert.Equal(t, slog.LevelWarn, cfg.levelFor("ddata"))
	assert.Equal(t, slog.LevelError, cfg.levelFor("other"))
	assert.True(t, cfg.json)
}

func TestParseEnv_IgnoresUnknownLevels(t *testing.T) {
	cfg := parseEnv("x=loud,chatty", "")

	assert.Equal(t, slog.LevelInfo, cfg.defaultLevel)
	assert.Empty(t, cfg.componentLevels)
	assert.False(t, cfg.json)
}

func TestLazyLogger_FollowsOutputAndLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("test/lazy", slog.LevelDebug)

	logger := Logger("test/lazy")
	logger.Debug("调试信息", "k", 1)

	require.NotZero(t, buf.Len())
	assert.Contains(t, buf.String(), "component=test/lazy")
	assert.Contains(t, buf.String(), "k=1")

	buf.Reset()
	SetLevel("test/lazy", slog.LevelError)
	logger.Info("不应输出")
	assert.Zero(t, buf.Len())
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "abcdefgh", TruncateID("abcdefghij", 8))
}
