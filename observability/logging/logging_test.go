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

func TestHandlerRenamesCoreFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Info("escrow released", "id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "escrow released", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["id"])
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestSetupWithFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrowd.log")
	logger, closer, err := SetupWithOptions("escrowd", "test", Options{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Info("started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"service":"escrowd"`)
	require.Contains(t, string(data), `"message":"started"`)
}

func TestHandlerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("signed request",
		"method", "escrow_release",
		"signature", "0xdeadbeef",
		slog.Group("auth", "bearer_token", "abc", "subject", "ops"),
		"webhook_secret", "",
	)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "escrow_release", line["method"])
	require.Equal(t, RedactedValue, line["signature"])
	require.Equal(t, "", line["webhook_secret"])
	auth, ok := line["auth"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, RedactedValue, auth["bearer_token"])
	require.Equal(t, "ops", auth["subject"])
}

func TestIsSensitive(t *testing.T) {
	require.True(t, IsSensitive("JWT_Secret"))
	require.True(t, IsSensitive("keystore_passphrase"))
	require.False(t, IsSensitive("height"))
	require.Equal(t, "", MaskValue("  "))
}
