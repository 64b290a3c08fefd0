package loop

import (
	"time"

	"github.com/mrcode/glucoloop/internal/models"
)

// Externally observable timing constants
const (
	// RecencyInterval is the freshness window for glucose and pump status
	// inputs. A sample exactly this old still counts as fresh.
	RecencyInterval = 15 * time.Minute

	// RecommendationFreshness bounds how old a recommendation may be at
	// enactment. A recommendation exactly this old is stale.
	RecommendationFreshness = 5 * time.Minute

	// SentryQuietWindow delays the post-telemetry loop run past the pump's
	// burst pattern (groups of 3 packets, 5 seconds apart).
	SentryQuietWindow = 11 * time.Second

	// BolusRetention is how long an enacted bolus is subtracted from new
	// bolus recommendations before the insulin effect is trusted to cover it.
	BolusRetention = 5 * time.Minute

	// allowPredictiveTempBelowRange lets the recommendation math suspend
	// delivery on a projected dip below range.
	allowPredictiveTempBelowRange = true
)

// effectKey identifies one of the three independently invalidatable effects
type effectKey int

const (
	effectMomentum effectKey = iota
	effectCarbs
	effectInsulin
)

func (k effectKey) String() string {
	switch k {
	case effectMomentum:
		return "momentum"
	case effectCarbs:
		return "carbs"
	default:
		return "insulin"
	}
}

// cache holds the engine's invalidatable state. Every mutation funnels
// through the methods below, which encode the invalidation graph:
//
//	momentum/carbs/insulin -> prediction -> recommendation
//	insulin -> lastBolus (when the bolus has aged past retention)
//
// Each propagation is part of the same serial step as the triggering write.
type cache struct {
	momentum models.EffectSeries
	carbs    models.EffectSeries
	insulin  models.EffectSeries

	prediction     models.Prediction
	recommendation *models.TempBasalRecommendation
	lastBolus      *models.Bolus
}

// effect reads one slot
func (c *cache) effect(k effectKey) models.EffectSeries {
	switch k {
	case effectMomentum:
		return c.momentum
	case effectCarbs:
		return c.carbs
	default:
		return c.insulin
	}
}

// effectsComplete reports whether all three effects are present
func (c *cache) effectsComplete() bool {
	return c.momentum != nil && c.carbs != nil && c.insulin != nil
}

// setEffect assigns a slot (nil clears it) and fires the propagations. Any
// assignment, including to nil, invalidates the prediction.
func (c *cache) setEffect(k effectKey, series models.EffectSeries, now time.Time) {
	switch k {
	case effectMomentum:
		c.momentum = series
	case effectCarbs:
		c.carbs = series
	case effectInsulin:
		c.insulin = series
		if c.lastBolus != nil && now.Sub(c.lastBolus.Date) >= BolusRetention {
			c.lastBolus = nil
		}
	}
	c.setPrediction(nil)
}

// setPrediction assigns the prediction and invalidates the recommendation
func (c *cache) setPrediction(p models.Prediction) {
	c.prediction = p
	c.recommendation = nil
}

// setRecommendation assigns the recommendation
func (c *cache) setRecommendation(r *models.TempBasalRecommendation) {
	c.recommendation = r
}
