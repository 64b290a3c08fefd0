package prediction

import (
	"math"
	"time"

	"github.com/mrcode/glucoloop/internal/models"
)

// InsulinActivityRemaining returns the fraction of a dose still active after
// the given minutes, using an exponential activity curve with configurable
// peak and DIA.
func InsulinActivityRemaining(minutesSince float64, params Parameters) float64 {
	diaMinutes := params.DIA * 60
	if minutesSince <= 0 {
		return 1.0
	}
	if minutesSince >= diaMinutes {
		return 0.0
	}

	// Activity(t) = (S/τ²) × t × (1 - t/DIA) × exp(-t/τ), integrated for
	// remaining insulin: τ puts the activity peak at InsulinPeakMinutes and S
	// scales the curve so the remainder reaches zero at DIA.
	peak := params.InsulinPeakMinutes
	tau := peak * (1 - peak/diaMinutes) / (1 - 2*peak/diaMinutes)
	if tau <= 0 || math.IsInf(tau, 0) {
		tau = peak * 0.75
	}

	a := 2 * tau / diaMinutes
	s := 1 / (1 - a + (1+a)*math.Exp(-diaMinutes/tau))

	t := minutesSince
	remaining := 1 - s*((t*t/(tau*diaMinutes)-(1-a)*(t/tau+1))*math.Exp(-t/tau)+(1-a))
	return math.Max(0, math.Min(1, remaining))
}

// doseUnits reduces a dose entry to total units delivered. Temp basals are
// treated as a lump delivered at their start, matching how the effect series
// is anchored.
func doseUnits(d models.DoseEntry) float64 {
	if d.Type == models.DoseTempBasal {
		return d.Rate * d.Duration.Hours()
	}
	return d.Units
}

// InsulinGlucoseEffects models the glucose suppression from outstanding
// insulin as a series of cumulative deltas on a 5-minute grid starting at
// anchor. Deltas are negative (insulin lowers glucose).
func InsulinGlucoseEffects(doses []models.DoseEntry, params Parameters, anchor time.Time, horizon time.Duration) models.EffectSeries {
	steps := int(horizon / effectInterval)
	series := make(models.EffectSeries, 0, steps+1)
	series = append(series, models.EffectPoint{Date: anchor, Delta: 0})

	for i := 1; i <= steps; i++ {
		at := anchor.Add(time.Duration(i) * effectInterval)

		var delta float64
		for _, d := range doses {
			units := doseUnits(d)
			if units <= 0 || d.Date.After(at) {
				continue
			}

			activityAtAnchor := InsulinActivityRemaining(anchor.Sub(d.Date).Minutes(), params)
			activityAt := InsulinActivityRemaining(at.Sub(d.Date).Minutes(), params)
			used := activityAtAnchor - activityAt
			if used > 0 {
				delta -= units * used * params.ISF
			}
		}

		series = append(series, models.EffectPoint{Date: at, Delta: delta})
	}

	return series
}
