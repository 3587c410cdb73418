package commands

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/schedule"
)

func TestEncodeConfig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Settings = cfg.Settings.Redacted()

	for _, format := range []string{"yaml", "YML", "toml", "json"} {
		out, err := encodeConfig(cfg, format)
		require.NoError(t, err, format)
		assert.Contains(t, string(out), "instruments", format)
	}

	out, err := encodeConfig(cfg, "json")
	require.NoError(t, err)
	var decoded config.Config
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Len(t, decoded.Instruments, len(cfg.Instruments))

	_, err = encodeConfig(cfg, "xml")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestDescribeTrigger(t *testing.T) {
	assert.Equal(t, "cron */5 * * * *", describeTrigger(schedule.TriggerInfo{Type: "cron", Cron: "*/5 * * * *"}))
	assert.Equal(t, "every 1m30s", describeTrigger(schedule.TriggerInfo{Type: "interval", Interval: 90}))
}

func TestFormatNext(t *testing.T) {
	assert.Equal(t, "-", formatNext(nil))

	next := time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)
	assert.Equal(t, "2024-03-01 12:30:00", formatNext(&next))
}
