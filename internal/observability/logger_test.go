package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/reportgrid/internal/config"
)

// syncBuffer is a WriteSyncer safe for concurrent writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInitialize(t *testing.T) {
	t.Run("should initialize json logger", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, buf)
		GetLogger().Warn("saved report", zap.String("client_id", "acme"))
		Sync()

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "saved report", entry["msg"])
		assert.Equal(t, "acme", entry["client_id"])
	})

	t.Run("should initialize console logger", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "reportgrid"}, buf)
		GetLogger().Named("persist").Debug("scheduled save")

		out := buf.String()
		assert.Contains(t, out, "DEBUG")
		assert.Contains(t, out, "reportgrid.persist.")
		assert.Contains(t, out, "scheduled save")
	})

	t.Run("should respect the level", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, buf)
		GetLogger().Info("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("should fall back to info on an unknown level", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, buf)
		logger := GetLogger()
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("should write to a log file if configured", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		logFile := filepath.Join(t.TempDir(), "reportgrid.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "console", LogFile: logFile, MaxSize: 1}, &syncBuffer{})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		assert.Contains(t, string(content), `"level":"ERROR"`)
	})

	t.Run("should only initialize once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		first, second := &syncBuffer{}, &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, first)
		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "Second"}, second)
		GetLogger().Info("hello")

		assert.Contains(t, first.String(), `"logger":"First"`)
		assert.Empty(t, second.String())
	})
}

func TestGetLogger_BeforeInitialize(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel), "no-op until initialized")
	Sync()
}
