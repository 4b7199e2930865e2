package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesStructuredJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, closer := New(Options{Service: "accesspayd", Env: "test", Output: &buf})
	defer closer.Close()

	logger.Info("escrow completed", slog.String("escrow", "0x01"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "escrow completed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "accesspayd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestNewHonoursLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, _ := New(Options{Service: "accesspayd", Level: slog.LevelWarn, Output: &buf})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestNewMirrorsToRotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "accesspayd.log")
	var buf bytes.Buffer
	logger, closer := New(Options{Service: "accesspayd", File: path, Output: &buf})
	logger.Info("settled")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, buf.String(), string(data))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "GET", MaskField("method", "GET").Value.String())
	require.Equal(t, RedactedValue, MaskField("remote", "10.0.0.1:5555").Value.String())
	require.Equal(t, "", MaskField("remote", "").Value.String())
}
