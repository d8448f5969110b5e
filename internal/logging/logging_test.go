package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/parkgate/config"
)

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parkgate.log")
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "debug", File: path}, true)
	require.NoError(t, err)

	logger.Debug().Str("component", "session").Msg("device unreachable")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "debug", entry["level"])
	require.Equal(t, "session", entry["component"])
	require.Equal(t, "device unreachable", entry["message"])
}

func TestSetupHonoursLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parkgate.log")
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "WARN", File: path}, true)
	require.NoError(t, err)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "hidden")
	require.Contains(t, string(data), "shown")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "chatty"}, false)
	require.ErrorContains(t, err, "parse log level")
}

func TestSetupRequiresLokiURL(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{File: filepath.Join(t.TempDir(), "x.log"), Loki: config.LokiConfig{Enabled: true}}, true)
	require.ErrorContains(t, err, "loki url is required")
}

func TestLokiLabelsDefaultApp(t *testing.T) {
	require.Equal(t, model.LabelValue("parkgate"), lokiLabels(nil)["app"])
	labels := lokiLabels(map[string]string{"app": "gate-west", "site": "norte"})
	require.Equal(t, model.LabelValue("gate-west"), labels["app"])
	require.Equal(t, model.LabelValue("norte"), labels["site"])
}
