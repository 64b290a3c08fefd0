package prediction

import (
	"math"
	"time"

	"github.com/mrcode/glucoloop/internal/models"
)

const (
	// tempBasalDuration is the fixed length of a recommended temp basal
	tempBasalDuration = 30 * time.Minute

	// rateResolution is the pump's basal rate granularity in U/h
	rateResolution = 0.025

	// bolusResolution is the pump's bolus granularity in units
	bolusResolution = 0.025

	// sameRateTolerance suppresses a recommendation that would re-issue the
	// currently running rate
	sameRateTolerance = rateResolution
)

// roundToResolution snaps to the pump's delivery granularity
func roundToResolution(value, resolution float64) float64 {
	return math.Round(value/resolution) * resolution
}

// RecommendTempBasal derives a temporary basal instruction from a prediction.
// Returns nil when no change to current delivery is warranted. The caller
// stamps IssuedAt.
//
// allowPredictiveLow enables a zero-temp when the projected minimum dips
// below the target range even though glucose has not dropped yet.
func RecommendTempBasal(
	pred models.Prediction,
	lastTemp *models.TempBasal,
	maxBasalRate float64,
	targets models.TargetSchedule,
	sensitivity models.DailySchedule,
	basalRates models.DailySchedule,
	allowPredictiveLow bool,
	now time.Time,
) *models.TempBasalRecommendation {
	if len(pred) == 0 {
		return nil
	}

	targetMin, targetMax := targets.At(now)
	isf := sensitivity.ValueAt(now)
	scheduled := basalRates.ValueAt(now)
	if isf <= 0 {
		return nil
	}

	eventual := pred.EventualGlucose()
	minimum := pred.MinimumGlucose()
	targetMid := (targetMin + targetMax) / 2

	var rate float64
	switch {
	case minimum < targetMin && allowPredictiveLow:
		// Projected to dip below range: suspend delivery
		rate = 0

	case eventual > targetMax:
		// Projected high: deliver the correction as a raised rate over the
		// temp duration, on top of the scheduled rate
		correctionUnits := (eventual - targetMid) / isf
		rate = scheduled + correctionUnits/tempBasalDuration.Hours()

	default:
		// In range: cancel a running temp by resuming the scheduled rate
		if lastTemp != nil && lastTemp.Active(now) {
			rate = scheduled
		} else {
			return nil
		}
	}

	rate = math.Max(0, math.Min(maxBasalRate, rate))
	rate = roundToResolution(rate, rateResolution)

	// Avoid oscillation: an active temp at effectively the same rate stands
	if lastTemp != nil && lastTemp.Active(now) && math.Abs(lastTemp.Rate-rate) < sameRateTolerance {
		return nil
	}
	if lastTemp == nil || !lastTemp.Active(now) {
		// No temp running and the correction matches the schedule anyway
		if math.Abs(rate-scheduled) < sameRateTolerance {
			return nil
		}
	}

	return &models.TempBasalRecommendation{Rate: rate, Duration: tempBasalDuration}
}

// RecommendBolus derives the gross correction bolus from a prediction. The
// caller subtracts any pending bolus. Returns 0 when the projection does not
// warrant a correction or any part of it dips below the target range.
func RecommendBolus(
	pred models.Prediction,
	maxBolus float64,
	targets models.TargetSchedule,
	sensitivity models.DailySchedule,
	now time.Time,
) float64 {
	if len(pred) == 0 {
		return 0
	}

	targetMin, targetMax := targets.At(now)
	isf := sensitivity.ValueAt(now)
	if isf <= 0 {
		return 0
	}

	eventual := pred.EventualGlucose()
	if pred.MinimumGlucose() < targetMin || eventual <= targetMax {
		return 0
	}

	targetMid := (targetMin + targetMax) / 2
	units := (eventual - targetMid) / isf
	units = math.Max(0, math.Min(maxBolus, units))

	return roundToResolution(units, bolusResolution)
}
