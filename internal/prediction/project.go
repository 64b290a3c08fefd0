package prediction

import (
	"math"
	"time"

	"github.com/mrcode/glucoloop/internal/models"
)

// deltaAt returns a series' cumulative delta in force at the given instant:
// the last point at or before it, zero before the series starts, and the
// final value after it ends.
func deltaAt(series models.EffectSeries, at time.Time) float64 {
	var delta float64
	for _, p := range series {
		if p.Date.After(at) {
			break
		}
		delta = p.Delta
	}
	return delta
}

// Project sums the momentum, carb, and insulin effect series onto the latest
// glucose sample. The first predicted point carries the sample's own
// timestamp and value; subsequent points follow on a 5-minute grid out to the
// end of the longest series.
func Project(latest models.GlucoseSample, momentum, carbs, insulin models.EffectSeries) models.Prediction {
	end := latest.Date
	for _, series := range []models.EffectSeries{momentum, carbs, insulin} {
		if n := len(series); n > 0 && series[n-1].Date.After(end) {
			end = series[n-1].Date
		}
	}

	pred := models.Prediction{{Date: latest.Date, Value: latest.Value}}

	for at := latest.Date.Add(effectInterval); !at.After(end); at = at.Add(effectInterval) {
		value := latest.Value +
			deltaAt(momentum, at) +
			deltaAt(carbs, at) +
			deltaAt(insulin, at)

		// Physiological bounds
		value = math.Max(20, math.Min(500, value))

		pred = append(pred, models.PredictedValue{Date: at, Value: value})
	}

	return pred
}
