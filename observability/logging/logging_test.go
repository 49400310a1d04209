package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, " poolsd ", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("pool created", "pool", "acme")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "pool created", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "poolsd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "acme", line["pool"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetupWithOptionsWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolsd.log")
	logger, closer := SetupWithOptions("poolsd", "", Options{File: path, MaxSizeMB: 1})
	logger.Warn("rotating")
	require.NoError(t, closer.Close())
	require.FileExists(t, path)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "acme", MaskField("pool", "acme").Value.String())
	require.Equal(t, "Bearer "+RedactedValue, MaskField("Authorization", "Bearer abc.def.ghi").Value.String())
	require.Equal(t, RedactedValue, MaskField("secret", "hunter2").Value.String())
	require.Equal(t, " ", MaskField("authorization", " ").Value.String())
	require.True(t, Sensitive(" DSN "))
	require.False(t, Sensitive("request_id"))
}
