package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
pump:
  simulator: true
  status_interval: 5m

therapy:
  max_basal_rate: 3.0
  max_bolus: 6.0
  isf: 45
  icr: 12
  dia: 5
  targets:
    - start_minute: 0
      min: 100
      max: 120
    - start_minute: 480
      min: 90
      max: 110
  sensitivity:
    - start_minute: 0
      value: 45
  basal_rates:
    - start_minute: 0
      value: 0.9

logging:
  level: debug
  format: text
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Pump.Simulator)
	assert.Equal(t, 3.0, cfg.Therapy.MaxBasalRatePerHour)
	assert.Equal(t, 45.0, cfg.Therapy.ISF)
	assert.Len(t, cfg.Therapy.Targets, 2)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Defaults fill unspecified values
	assert.Equal(t, 75.0, cfg.Therapy.InsulinPeakMinutes)
	assert.Equal(t, ":9551", cfg.Loop.MetricsAddr)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	cfg.Therapy.DIA = 12
	assert.Error(t, cfg.Validate())

	cfg.Therapy.DIA = 5
	cfg.Pump.Simulator = false
	cfg.Pump.BridgeURL = ""
	assert.Error(t, cfg.Validate())
}

func TestTherapySettings_Completeness(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	settings := cfg.TherapySettings()
	assert.True(t, settings.Complete())
	require.NotNil(t, settings.MaximumBasalRatePerHour)
	assert.Equal(t, 3.0, *settings.MaximumBasalRatePerHour)

	cfg.Therapy.MaxBolus = 0
	assert.False(t, cfg.TherapySettings().Complete(), "missing max bolus must make the snapshot incomplete")
}

func TestParameters(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	params := cfg.Parameters()
	assert.Equal(t, 45.0, params.ISF)
	assert.Equal(t, 12.0, params.ICR)
	assert.Equal(t, 5.0, params.DIA)
}
