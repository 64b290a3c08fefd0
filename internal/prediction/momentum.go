package prediction

import (
	"math"
	"sort"
	"time"

	"github.com/mrcode/glucoloop/internal/models"
)

// momentumHorizon is how far the short-horizon slope extrapolation reaches
const momentumHorizon = 30 * time.Minute

// Slope calculates the current glucose trend in mg/dL per 5 minutes from
// recent samples, using linear regression over the latest readings.
func Slope(samples []models.GlucoseSample) float64 {
	if len(samples) < 2 {
		return 0
	}

	// Sort by time descending (most recent first)
	sorted := make([]models.GlucoseSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	// Use the last 3-5 readings (15-25 minutes)
	n := len(sorted)
	if n > 5 {
		n = 5
	}

	var sumX, sumY, sumXY, sumX2 float64
	baseTime := sorted[0].Date

	for i := 0; i < n; i++ {
		x := baseTime.Sub(sorted[i].Date).Minutes() // minutes ago
		y := sorted[i].Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	nf := float64(n)
	denominator := nf*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0
	}

	// Slope in mg/dL per minute; negate since x counts backwards
	slope := (nf*sumXY - sumX*sumY) / denominator
	return -slope * 5
}

// MomentumEffect extrapolates the recent glucose slope into a short-horizon
// effect series of cumulative deltas anchored at the latest sample. The
// contribution decays so momentum never dominates the modeled effects far
// out.
func MomentumEffect(samples []models.GlucoseSample, anchor time.Time) models.EffectSeries {
	slope := Slope(samples)

	steps := int(momentumHorizon / effectInterval)
	series := make(models.EffectSeries, 0, steps+1)
	series = append(series, models.EffectPoint{Date: anchor, Delta: 0})

	for i := 1; i <= steps; i++ {
		minutesOut := float64(i) * effectInterval.Minutes()
		decay := math.Exp(-0.03 * minutesOut)
		delta := slope * (minutesOut / 5) * decay
		series = append(series, models.EffectPoint{
			Date:  anchor.Add(time.Duration(i) * effectInterval),
			Delta: delta,
		})
	}

	return series
}
