package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: " stakingd ", Env: "test", Level: "debug"})
	logger.Debug("staking: probe", MaskField("token", "secret"), MaskField("asset", "bar-1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "stakingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "staking: probe", line["message"])
	require.Equal(t, RedactedValue, line["token"])
	require.Equal(t, "bar-1", line["asset"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskBearer(t *testing.T) {
	require.Equal(t, "Bearer "+RedactedValue, MaskBearer("Bearer abc.def.ghi"))
	require.Equal(t, RedactedValue, MaskBearer("abc"))
	require.Equal(t, "", MaskBearer(""))
	require.Contains(t, RedactionAllowlist(), "asset")
}
