package loop

import (
	"context"

	"github.com/mrcode/glucoloop/internal/models"
	"github.com/mrcode/glucoloop/internal/prediction"
	"github.com/mrcode/glucoloop/internal/pump"
)

// connectedDevice resolves the pump device and its command channel, or the
// gate error that stops enactment.
func (e *Engine) connectedDevice() (pump.Device, error) {
	if e.pump == nil {
		return nil, &ConnectionError{}
	}
	dev := e.pump.ConnectedDevice()
	if dev == nil {
		return nil, &ConnectionError{}
	}
	if !dev.SupportsCommands() {
		return nil, &ConfigurationError{Detail: "pump device has no command channel configured"}
	}
	return dev, nil
}

// enactRecommendedTempBasalLocked dispatches the cached recommendation to
// the pump. No recommendation is a trivial success. A recommendation exactly
// RecommendationFreshness old is stale: enactment requires the age to be
// strictly below the window.
func (e *Engine) enactRecommendedTempBasalLocked(ctx context.Context) error {
	rec := e.state.recommendation
	if rec == nil {
		return nil
	}

	now := e.now()
	if now.Sub(rec.IssuedAt) >= RecommendationFreshness {
		return &StaleDataError{Detail: "temp basal recommendation expired", Date: rec.IssuedAt}
	}

	dev, err := e.connectedDevice()
	if err != nil {
		return err
	}

	ack, err := dev.SetTempBasal(ctx, rec.Rate, rec.Duration)
	if err != nil {
		return &CommunicationError{Err: err}
	}

	// Reconstruct the enacted window from the pump's own remaining time
	endDate := e.now().Add(ack.TimeRemaining)
	startDate := endDate.Add(-rec.Duration)
	e.lastTempBasal = &models.TempBasal{Start: startDate, End: endDate, Rate: ack.Rate}
	e.state.setRecommendation(nil)

	e.recordDoseLocked(ctx, models.DoseEntry{
		Type:     models.DoseTempBasal,
		Date:     startDate,
		Rate:     ack.Rate,
		Duration: rec.Duration,
	})

	if e.metrics != nil {
		e.metrics.RecordTempBasalEnacted()
	}
	e.logger.Info("temp basal enacted",
		"rate", ack.Rate,
		"duration", rec.Duration,
	)
	return nil
}

// RecommendBolus refreshes the loop state and returns the correction bolus
// the current prediction warrants, net of any pending bolus.
func (e *Engine) RecommendBolus(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.updateLocked(ctx); err != nil {
		return 0, err
	}
	return e.recommendBolusLocked()
}

func (e *Engine) recommendBolusLocked() (float64, error) {
	pred := e.state.prediction
	if len(pred) == 0 {
		return 0, &MissingDataError{Detail: "no prediction available"}
	}

	settings := e.settings.TherapySettings()
	switch {
	case settings.MaximumBolus == nil:
		return 0, &MissingDataError{Detail: "maximum bolus not configured"}
	case len(settings.GlucoseTargetRange) == 0:
		return 0, &MissingDataError{Detail: "glucose target range not configured"}
	case len(settings.InsulinSensitivity) == 0:
		return 0, &MissingDataError{Detail: "insulin sensitivity not configured"}
	case len(settings.BasalRates) == 0:
		return 0, &MissingDataError{Detail: "basal rate schedule not configured"}
	}

	now := e.now()
	if age := now.Sub(pred[0].Date); age > RecencyInterval {
		return 0, &StaleDataError{Detail: "prediction is too old", Date: pred[0].Date}
	}

	units := prediction.RecommendBolus(
		pred,
		*settings.MaximumBolus,
		settings.GlucoseTargetRange,
		settings.InsulinSensitivity,
		now,
	)

	// A bolus enacted moments ago is not yet visible in the insulin effect;
	// subtract it so it is not delivered twice.
	if e.state.lastBolus != nil {
		units -= e.state.lastBolus.Units
	}
	if units < 0 {
		units = 0
	}
	return units, nil
}

// EnactBolus delivers a bolus through the pump. Zero or negative units are a
// trivial success.
func (e *Engine) EnactBolus(ctx context.Context, units float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if units <= 0 {
		return nil
	}

	dev, err := e.connectedDevice()
	if err != nil {
		return err
	}

	if err := dev.SetNormalBolus(ctx, units); err != nil {
		return &CommunicationError{Err: err}
	}

	now := e.now()
	e.state.lastBolus = &models.Bolus{Units: units, Date: now}

	e.recordDoseLocked(ctx, models.DoseEntry{
		Type:  models.DoseBolus,
		Date:  now,
		Units: units,
	})

	if e.metrics != nil {
		e.metrics.RecordBolusEnacted()
	}
	e.logger.Info("bolus enacted", "units", units)
	return nil
}

// recordDoseLocked mirrors an enacted dose into the dose store so future
// insulin effects account for it. Best effort; the pump already delivered.
func (e *Engine) recordDoseLocked(ctx context.Context, dose models.DoseEntry) {
	if e.doses == nil {
		return
	}
	if err := e.doses.AddDose(ctx, dose); err != nil {
		e.logger.Error("failed to record enacted dose", "error", err.Error())
	}
}
