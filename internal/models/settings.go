// Package models contains data structures used throughout the application
package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Settings contains the persistent user-facing settings. The decision engine
// reads DosingEnabled on every tick; everything else belongs to the ambient
// services around it.
type Settings struct {
	mu sync.RWMutex `json:"-"`

	// Dosing
	DosingEnabled bool `json:"dosingEnabled"` // Closed loop when true, open loop otherwise

	// Display settings
	Unit string `json:"unit"` // "mg/dL" or "mmol/L"

	// Alert settings
	EnableLoopErrorAlert  bool `json:"enableLoopErrorAlert"`
	EnableWatchdogAlert   bool `json:"enableWatchdogAlert"`
	RepeatAlertMinutes    int  `json:"repeatAlertMinutes"`    // 0 = no repeat
	WatchdogWindowMinutes int  `json:"watchdogWindowMinutes"` // Alert when no loop completes for this long
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	return &Settings{
		DosingEnabled: false, // Open loop until the user opts in

		Unit: "mg/dL",

		EnableLoopErrorAlert:  true,
		EnableWatchdogAlert:   true,
		RepeatAlertMinutes:    15,
		WatchdogWindowMinutes: 20,
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	appDir := filepath.Join(configDir, "glucoloop")
	if err := os.MkdirAll(appDir, 0750); err != nil {
		return "", err
	}

	return appDir, nil
}

// GetConfigPath returns the full path to the settings file
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

// Load loads settings from disk
func (s *Settings) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path) //nolint:gosec // Config path is controlled by the app, not user input
	if err != nil {
		if os.IsNotExist(err) {
			// Use defaults if file doesn't exist
			s.copySettingsFields(DefaultSettings())
			return nil
		}
		return err
	}

	return json.Unmarshal(data, s)
}

// Save saves settings to disk
func (s *Settings) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Clone creates a copy of the settings
func (s *Settings) Clone() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Settings{}
	clone.copySettingsFields(s)
	return clone
}

// Update updates settings from another Settings object
func (s *Settings) Update(other *Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	s.copySettingsFields(other)
}

// copySettingsFields copies all fields from other to s, excluding the mutex.
// The caller must hold the necessary locks on s and other (if other is shared)
func (s *Settings) copySettingsFields(other *Settings) {
	s.DosingEnabled = other.DosingEnabled
	s.Unit = other.Unit
	s.EnableLoopErrorAlert = other.EnableLoopErrorAlert
	s.EnableWatchdogAlert = other.EnableWatchdogAlert
	s.RepeatAlertMinutes = other.RepeatAlertMinutes
	s.WatchdogWindowMinutes = other.WatchdogWindowMinutes
}

// IsDosingEnabled reports whether closed-loop dosing is enabled
func (s *Settings) IsDosingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DosingEnabled
}

// SetDosingEnabled flips the dosing switch and persists it
func (s *Settings) SetDosingEnabled(enabled bool) error {
	s.mu.Lock()
	s.DosingEnabled = enabled
	s.mu.Unlock()
	return s.Save()
}
