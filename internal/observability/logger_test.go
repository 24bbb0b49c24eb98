package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spawndev/gosocketio/internal/config"
)

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "demo.log")

	logger, err := SetupLogger(config.LogConfig{
		Level:   "debug",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)

	logger.Debug("socket connected", zap.String("sid", "abc"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"socket connected"`)
	assert.Contains(t, string(data), `"sid":"abc"`)
	assert.Same(t, logger, zap.L())
}

func TestSetupLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "rotated.log")

	logger, err := SetupLogger(config.LogConfig{
		Level:   "info",
		Format:  "console",
		Outputs: []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{
			Enable:   true,
			Filename: target,
		},
	})
	require.NoError(t, err)

	logger.Info("hello")
	logger.Debug("filtered")
	_ = logger.Sync()

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.NotContains(t, string(data), "filtered")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}
