// Package config loads the daemon configuration from file and environment
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/mrcode/glucoloop/internal/models"
	"github.com/mrcode/glucoloop/internal/prediction"
)

// Config represents the complete application configuration
type Config struct {
	Pump    PumpConfig    `mapstructure:"pump"`
	Therapy TherapyConfig `mapstructure:"therapy"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PumpConfig holds pump rig connection configuration
type PumpConfig struct {
	BridgeURL      string        `mapstructure:"bridge_url"`
	APISecret      string        `mapstructure:"api_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Simulator      bool          `mapstructure:"simulator"` // Use the in-process simulator instead of a rig
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// TherapyConfig holds dosing limits, model constants, and daily schedules
type TherapyConfig struct {
	MaxBasalRatePerHour float64 `mapstructure:"max_basal_rate"` // U/h
	MaxBolus            float64 `mapstructure:"max_bolus"`      // units

	ISF                float64       `mapstructure:"isf"` // mg/dL per unit
	ICR                float64       `mapstructure:"icr"` // g per unit
	DIA                float64       `mapstructure:"dia"` // hours
	InsulinPeakMinutes float64       `mapstructure:"insulin_peak_minutes"`
	CarbAbsorption     time.Duration `mapstructure:"carb_absorption"`

	Targets     []models.TargetBand   `mapstructure:"targets"`
	Sensitivity []models.ScheduleBand `mapstructure:"sensitivity"`
	BasalRates  []models.ScheduleBand `mapstructure:"basal_rates"`
}

// LoopConfig holds engine and storage configuration
type LoopConfig struct {
	DBPath      string `mapstructure:"db_path"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	ChartPath   string `mapstructure:"chart_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("GLUCOLOOP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("pump.timeout", "30s")
	v.SetDefault("pump.simulator", false)
	v.SetDefault("pump.status_interval", "5m")

	v.SetDefault("therapy.isf", 50.0)
	v.SetDefault("therapy.icr", 10.0)
	v.SetDefault("therapy.dia", 5.0)
	v.SetDefault("therapy.insulin_peak_minutes", 75.0)
	v.SetDefault("therapy.carb_absorption", "3h")

	v.SetDefault("loop.db_path", "./data/glucoloop.db")
	v.SetDefault("loop.metrics_addr", ":9551")
	v.SetDefault("loop.chart_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if !c.Pump.Simulator && c.Pump.BridgeURL == "" {
		return fmt.Errorf("pump.bridge_url is required unless pump.simulator is enabled")
	}

	if c.Therapy.MaxBasalRatePerHour < 0 {
		return fmt.Errorf("therapy.max_basal_rate must not be negative")
	}
	if c.Therapy.MaxBolus < 0 {
		return fmt.Errorf("therapy.max_bolus must not be negative")
	}
	if c.Therapy.ISF <= 0 {
		return fmt.Errorf("therapy.isf must be positive")
	}
	if c.Therapy.ICR <= 0 {
		return fmt.Errorf("therapy.icr must be positive")
	}
	if c.Therapy.DIA < 2 || c.Therapy.DIA > 8 {
		return fmt.Errorf("therapy.dia must be between 2 and 8 hours")
	}
	for i, band := range c.Therapy.Targets {
		if band.Min <= 0 || band.Max < band.Min {
			return fmt.Errorf("therapy.targets[%d] has an invalid range", i)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Parameters returns the physiological model constants for the effect kernels
func (c *Config) Parameters() prediction.Parameters {
	return prediction.Parameters{
		ISF:                   c.Therapy.ISF,
		ICR:                   c.Therapy.ICR,
		DIA:                   c.Therapy.DIA,
		InsulinPeakMinutes:    c.Therapy.InsulinPeakMinutes,
		CarbAbsorptionDefault: c.Therapy.CarbAbsorption,
	}
}

// TherapySettings returns the dosing snapshot fields the engine consumes.
// Unset limits come back nil so the engine can refuse to dose.
func (c *Config) TherapySettings() models.TherapySettings {
	settings := models.TherapySettings{
		GlucoseTargetRange: models.TargetSchedule(c.Therapy.Targets),
		InsulinSensitivity: models.DailySchedule(c.Therapy.Sensitivity),
		BasalRates:         models.DailySchedule(c.Therapy.BasalRates),
	}
	if c.Therapy.MaxBasalRatePerHour > 0 {
		rate := c.Therapy.MaxBasalRatePerHour
		settings.MaximumBasalRatePerHour = &rate
	}
	if c.Therapy.MaxBolus > 0 {
		maxBolus := c.Therapy.MaxBolus
		settings.MaximumBolus = &maxBolus
	}
	return settings
}
