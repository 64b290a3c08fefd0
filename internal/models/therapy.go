// Package models contains data structures used throughout the application
package models

// TherapySettings is the configuration snapshot the decision engine reads
// once at the start of each prediction step. Nil fields mean the provider
// has no value configured; the engine refuses a temp basal without the
// maximum basal rate and the three schedules, and a bolus recommendation
// without the maximum bolus and the three schedules.
type TherapySettings struct {
	MaximumBasalRatePerHour *float64      `json:"maximumBasalRatePerHour"` // U/h
	MaximumBolus            *float64      `json:"maximumBolus"`            // units
	GlucoseTargetRange      TargetSchedule `json:"glucoseTargetRange"`
	InsulinSensitivity      DailySchedule  `json:"insulinSensitivity"` // mg/dL per unit
	BasalRates              DailySchedule  `json:"basalRates"`         // U/h
}

// Complete reports whether every field required for dosing is present
func (t TherapySettings) Complete() bool {
	return t.MaximumBasalRatePerHour != nil &&
		t.MaximumBolus != nil &&
		len(t.GlucoseTargetRange) > 0 &&
		len(t.InsulinSensitivity) > 0 &&
		len(t.BasalRates) > 0
}
