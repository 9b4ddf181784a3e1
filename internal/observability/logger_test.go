package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/0x6d61/xssprobe/internal/config"
)

func TestInitialize_JSON(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	l := Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "xssprobe"}, zapcore.AddSync(&buf))
	l.Debug("hidden")
	l.Warn("probe failed", zap.String("url", "http://t/"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "xssprobe", entry["logger"])
	assert.Equal(t, "probe failed", entry["msg"])
	assert.Equal(t, "http://t/", entry["url"])
}

func TestInitialize_ConsoleColors(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "scan",
		Colors:      config.ColorConfig{Info: "green"},
	}
	Initialize(cfg, zapcore.AddSync(&buf)).Info("started")

	out := buf.String()
	assert.Contains(t, out, colorCodes["green"]+"INFO"+colorReset)
	assert.Contains(t, out, "scan.")
	assert.Contains(t, out, "started")
}

func TestInitialize_Once(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	a := Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
	b := Initialize(config.LoggerConfig{Level: "debug", Format: "json"}, zapcore.AddSync(&second))

	assert.Same(t, a, b)
	b.Info("x")
	assert.NotEmpty(t, first.String())
	assert.Empty(t, second.String())
}

func TestInitialize_LogFile(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	path := filepath.Join(t.TempDir(), "xssprobe.log")
	var console bytes.Buffer
	l := Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&console))
	l.Error("written to file")
	Sync()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"written to file"`)
}

func TestGetLogger_Fallback(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
}

func TestLevelColors_UnknownColor(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.LoggerConfig{Level: "info", Format: "console", Colors: config.ColorConfig{Info: "plaid"}}, zapcore.AddSync(&buf))
	l.Info("plain")
	assert.NotContains(t, buf.String(), colorReset)
}
