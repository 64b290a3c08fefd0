// Package models contains data structures used throughout the application
package models

import "time"

// GlucoseSample represents a single sensor glucose reading
type GlucoseSample struct {
	Date   time.Time `json:"date"`
	Value  float64   `json:"value"`  // mg/dL
	Device string    `json:"device"` // Source device identifier
}

// ValueMmolL returns the glucose value in mmol/L
func (g *GlucoseSample) ValueMmolL() float64 {
	return g.Value / 18.0182
}

// EffectPoint is a single modeled glucose delta at a point in time
type EffectPoint struct {
	Date  time.Time `json:"date"`
	Delta float64   `json:"delta"` // mg/dL relative to the series anchor
}

// EffectSeries is an ordered sequence of glucose deltas attributable to one
// input (momentum, carbs, or insulin). A nil series means "not computed".
type EffectSeries []EffectPoint

// PredictedValue is a single projected glucose value
type PredictedValue struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"` // mg/dL
}

// Prediction is the glucose trajectory obtained by summing all effect series
// onto the latest glucose sample. The first point carries the latest sample's
// timestamp and value.
type Prediction []PredictedValue

// EventualGlucose returns the last projected value, or 0 for an empty prediction
func (p Prediction) EventualGlucose() float64 {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1].Value
}

// MinimumGlucose returns the lowest projected value, or 0 for an empty prediction
func (p Prediction) MinimumGlucose() float64 {
	if len(p) == 0 {
		return 0
	}
	minVal := p[0].Value
	for _, v := range p[1:] {
		if v.Value < minVal {
			minVal = v.Value
		}
	}
	return minVal
}

// ToMmol converts a mg/dL value to mmol/L
func ToMmol(mgdl float64) float64 {
	return mgdl / 18.0182
}

// ToMgdl converts a mmol/L value to mg/dL
func ToMgdl(mmol float64) float64 {
	return mmol * 18.0182
}
