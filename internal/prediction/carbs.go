package prediction

import (
	"math"
	"time"

	"github.com/mrcode/glucoloop/internal/models"
)

// CarbsAbsorbed returns the grams of an entry absorbed after the given
// minutes. Uses a logistic fast-then-slow profile with peak absorption rate
// about a third of the way through the absorption time.
func CarbsAbsorbed(totalCarbs, minutesSince, absorptionMinutes float64) float64 {
	if minutesSince <= 0 {
		return 0
	}
	if minutesSince >= absorptionMinutes {
		return totalCarbs
	}

	progress := minutesSince / absorptionMinutes

	k := 8.0  // Steepness
	c := 0.35 // Center point (peak rate ~35% through absorption)

	absorbed := totalCarbs / (1 + math.Exp(-k*(progress-c)))
	return math.Min(absorbed, totalCarbs)
}

// CarbGlucoseEffects models the glucose rise from outstanding carbohydrate
// absorption as a series of cumulative deltas on a 5-minute grid starting at
// anchor.
func CarbGlucoseEffects(entries []models.CarbEntry, params Parameters, anchor time.Time, horizon time.Duration) models.EffectSeries {
	// Carb sensitivity factor: how much 1g of carbs raises glucose
	csf := params.ISF / params.ICR

	steps := int(horizon / effectInterval)
	series := make(models.EffectSeries, 0, steps+1)
	series = append(series, models.EffectPoint{Date: anchor, Delta: 0})

	for i := 1; i <= steps; i++ {
		at := anchor.Add(time.Duration(i) * effectInterval)

		var delta float64
		for _, e := range entries {
			if e.Grams <= 0 || e.Date.After(at) {
				continue
			}

			absorption := e.Absorption
			if absorption <= 0 {
				absorption = params.CarbAbsorptionDefault
			}

			absorbedAtAnchor := CarbsAbsorbed(e.Grams, anchor.Sub(e.Date).Minutes(), absorption.Minutes())
			absorbedAt := CarbsAbsorbed(e.Grams, at.Sub(e.Date).Minutes(), absorption.Minutes())
			if grams := absorbedAt - absorbedAtAnchor; grams > 0 {
				delta += grams * csf
			}
		}

		series = append(series, models.EffectPoint{Date: at, Delta: delta})
	}

	return series
}
