// Package prediction provides the glucose effect kernels and the dosing
// recommendation math used by the loop decision engine: momentum
// extrapolation, carbohydrate absorption, insulin activity, forward
// projection, and temp-basal/bolus recommendations.
package prediction

import "time"

// Parameters holds the physiological model constants shared by the effect
// kernels. Schedules (sensitivity, basal rates, targets) are supplied per
// call; these are the shape parameters of the underlying curves.
type Parameters struct {
	ISF float64 `json:"isf"` // mg/dL per unit, applied by the insulin and carb effect kernels
	ICR float64 `json:"icr"` // grams of carbs per unit

	// Duration of Insulin Action in hours
	DIA float64 `json:"dia"`

	// Peak insulin activity in minutes after delivery
	InsulinPeakMinutes float64 `json:"insulinPeakMinutes"`

	// Default carb absorption time when an entry does not carry its own
	CarbAbsorptionDefault time.Duration `json:"carbAbsorptionDefault"`
}

// DefaultParameters returns model constants for rapid-acting insulin
func DefaultParameters() Parameters {
	return Parameters{
		ISF:                   50,
		ICR:                   10,
		DIA:                   5, // Research shows 3-4h is too short
		InsulinPeakMinutes:    75,
		CarbAbsorptionDefault: 3 * time.Hour,
	}
}

// effectInterval is the sampling step for all effect series and predictions
const effectInterval = 5 * time.Minute
