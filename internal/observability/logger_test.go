package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browser-window/internal/config"
)

func TestBuild(t *testing.T) {
	t.Run("should colorize console levels", func(t *testing.T) {
		var buf zaptest.Buffer
		logger, closer := Build(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "console_test",
			Colors:      config.ColorConfig{Info: "green"},
		}, &buf)
		defer closer.Close()

		logger.Info("Event loop started.")
		require.NoError(t, logger.Sync())

		out := buf.String()
		assert.Contains(t, out, colorGreen+"INFO"+colorReset)
		assert.Contains(t, out, "console_test.")
		assert.Contains(t, out, "Event loop started.")
	})

	t.Run("should emit one JSON object per entry", func(t *testing.T) {
		var buf zaptest.Buffer
		logger, closer := Build(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "json_test"}, &buf)
		defer closer.Close()

		logger.Debug("filtered out")
		logger.Warn("Dispatch rejected.", zap.String("kind", "eval_js"))
		require.NoError(t, logger.Sync())

		lines := buf.Lines()
		require.Len(t, lines, 1)
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "json_test", entry["logger"])
		assert.Equal(t, "eval_js", entry["kind"])
	})

	t.Run("should fall back to info on an unknown level", func(t *testing.T) {
		var buf zaptest.Buffer
		logger, closer := Build(config.LoggerConfig{Level: "chatty", Format: "json"}, &buf)
		defer closer.Close()

		logger.Debug("hidden")
		logger.Info("shown")
		assert.Len(t, buf.Lines(), 1)
	})

	t.Run("should also write rotated JSON to the log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bw.log")
		var buf zaptest.Buffer
		logger, closer := Build(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, &buf)

		logger.Error("Recovered from panic in loop job.")
		require.NoError(t, logger.Sync())
		require.NoError(t, closer.Close())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"Recovered from panic in loop job."`)
	})
}

func TestInitialize(t *testing.T) {
	t.Run("should only initialize once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf zaptest.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"}, &buf)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "second"}, &buf)

		assert.Same(t, first, GetLogger())
		GetLogger().Info("hello")
		Sync()
		assert.True(t, strings.Contains(buf.String(), `"logger":"first"`))
		assert.False(t, strings.Contains(buf.String(), "second"))
	})

	t.Run("should hand out a fallback before initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		assert.NotNil(t, GetLogger())
		assert.Nil(t, globalLogger.Load())
	})
}
