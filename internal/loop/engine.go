package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mrcode/glucoloop/internal/bus"
	"github.com/mrcode/glucoloop/internal/models"
	"github.com/mrcode/glucoloop/internal/prediction"
	"github.com/mrcode/glucoloop/internal/pump"
)

// GlucoseStore supplies sensor readings and the momentum effect
type GlucoseStore interface {
	LatestGlucose(ctx context.Context) (*models.GlucoseSample, error)
	MomentumEffect(ctx context.Context) (models.EffectSeries, error)
}

// CarbStore supplies the carbohydrate effect and accepts new entries
type CarbStore interface {
	CarbGlucoseEffects(ctx context.Context, startAfter time.Time) (models.EffectSeries, error)
	AddCarbEntry(ctx context.Context, entry models.CarbEntry) error
}

// DoseStore supplies the insulin effect and records enacted doses
type DoseStore interface {
	InsulinGlucoseEffects(ctx context.Context, startAfter time.Time) (models.EffectSeries, error)
	AddDose(ctx context.Context, dose models.DoseEntry) error
}

// PumpManager is the engine's non-owning view of the pump: the manager
// outlives the engine by construction.
type PumpManager interface {
	LatestStatus() *pump.Status
	ConnectedDevice() pump.Device
	LastTuned() time.Time
	Tune(ctx context.Context) error
}

// SettingsProvider supplies the therapy configuration snapshot read once per
// prediction step.
type SettingsProvider interface {
	TherapySettings() models.TherapySettings
}

// DosingSwitch is the persisted user setting gating closed-loop dosing
type DosingSwitch interface {
	IsDosingEnabled() bool
	SetDosingEnabled(enabled bool) error
}

// Notifier receives loop lifecycle transitions (watchdog scheduling, error
// alerts). May be nil.
type Notifier interface {
	LoopCompleted(at time.Time)
	LoopFailed(err error)
}

// Metrics receives analytics events. May be nil.
type Metrics interface {
	RecordLoopSuccess()
	RecordLoopError(kind string)
	RecordTempBasalEnacted()
	RecordBolusEnacted()
}

// Options configures a new Engine
type Options struct {
	Logger   *slog.Logger
	Events   *bus.Bus
	Glucose  GlucoseStore
	Carbs    CarbStore
	Doses    DoseStore
	Pump     PumpManager
	Settings SettingsProvider
	Dosing   DosingSwitch
	Notifier Notifier
	Metrics  Metrics

	// Clock overrides time.Now, for tests
	Clock func() time.Time

	// SentryQuietWindow overrides the post-telemetry delay, for tests
	SentryQuietWindow time.Duration
}

// Engine is the loop decision engine. A single mutex serializes every
// logical step touching its state; collaborator and device I/O runs inside
// the owning step (apart from the fire-and-forget radio retune), so at most
// one step is ever in flight.
type Engine struct {
	logger   *slog.Logger
	events   *bus.Bus
	glucose  GlucoseStore
	carbs    CarbStore
	doses    DoseStore
	pump     PumpManager
	settings SettingsProvider
	dosing   DosingSwitch
	notifier Notifier
	metrics  Metrics

	now         func() time.Time
	sentryDelay time.Duration

	mu                sync.Mutex // the decision queue
	state             cache
	lastTempBasal     *models.TempBasal
	lastLoopCompleted time.Time
	lastLoopError     error
	waitingForSentry  bool
	sentryTimer       *time.Timer
	lastTuneAttempt   time.Time
	subs              []*bus.Subscription
	stopped           bool
}

// New creates an engine; call Start to attach it to the bus
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sentryDelay := opts.SentryQuietWindow
	if sentryDelay <= 0 {
		sentryDelay = SentryQuietWindow
	}

	return &Engine{
		logger:      logger,
		events:      opts.Events,
		glucose:     opts.Glucose,
		carbs:       opts.Carbs,
		doses:       opts.Doses,
		pump:        opts.Pump,
		settings:    opts.Settings,
		dosing:      opts.Dosing,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		now:         clock,
		sentryDelay: sentryDelay,
	}
}

// Start subscribes the engine to its change signals
func (e *Engine) Start() {
	if e.events == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = false
	e.subs = append(e.subs,
		e.events.Subscribe(bus.GlucoseUpdated, func(bus.Event) { e.handleGlucoseUpdated() }),
		e.events.Subscribe(bus.PumpStatusUpdated, func(bus.Event) { e.handlePumpStatusUpdated() }),
		e.events.Subscribe(bus.CarbEntriesUpdated, func(bus.Event) { e.handleCarbEntriesUpdated() }),
	)
}

// Stop releases the engine's subscriptions and cancels any pending
// post-telemetry run.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subs {
		sub.Close()
	}
	e.subs = nil

	if e.sentryTimer != nil {
		e.sentryTimer.Stop()
		e.sentryTimer = nil
	}
	e.waitingForSentry = false
	e.stopped = true
}

// LoopStatus is the read-side snapshot delivered by Status
type LoopStatus struct {
	Prediction        models.Prediction
	Recommendation    *models.TempBasalRecommendation
	LastTempBasal     *models.TempBasal
	LastLoopCompleted time.Time
	Err               error
}

// Status refreshes stale state and returns the current snapshot. It never
// enacts dosing.
func (e *Engine) Status(ctx context.Context) LoopStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.updateLocked(ctx)

	return LoopStatus{
		Prediction:        e.state.prediction,
		Recommendation:    e.state.recommendation,
		LastTempBasal:     e.lastTempBasal,
		LastLoopCompleted: e.lastLoopCompleted,
		Err:               err,
	}
}

// LastLoopError returns the error that aborted the most recent cycle, if any
func (e *Engine) LastLoopError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastLoopError
}

// RunLoop executes one full decision cycle: refresh, predict, recommend,
// and, when dosing is enabled, enact.
func (e *Engine) RunLoop(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runLoopLocked(ctx)
}

func (e *Engine) runLoopLocked(ctx context.Context) {
	e.lastLoopError = nil

	if err := e.updateLocked(ctx); err != nil {
		e.recordLoopErrorLocked(err)
		e.notifyLocked()
		return
	}

	if e.dosing == nil || !e.dosing.IsDosingEnabled() {
		e.recordLoopCompletedLocked()
		e.notifyLocked()
		return
	}

	// Dosing enabled: the gate owns the terminal notification
	if err := e.enactRecommendedTempBasalLocked(ctx); err != nil {
		e.recordLoopErrorLocked(err)
	} else {
		e.recordLoopCompletedLocked()
	}
	e.notifyLocked()
}

// SetDosingEnabled persists the dosing switch and signals observers
func (e *Engine) SetDosingEnabled(enabled bool) error {
	if e.dosing == nil {
		return &ConfigurationError{Detail: "no dosing switch configured"}
	}
	if err := e.dosing.SetDosingEnabled(enabled); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifyLocked()
	return nil
}

// AddCarbEntry records a carb entry, refreshes the loop state, and returns a
// bolus recommendation covering the entry.
func (e *Engine) AddCarbEntry(ctx context.Context, entry models.CarbEntry) (float64, error) {
	if e.carbs == nil {
		return 0, &MissingDataError{Detail: "carb store not available"}
	}

	// Forward outside the decision queue: the store's change signal re-enters
	// the queue through the ingress handler.
	if err := e.carbs.AddCarbEntry(ctx, entry); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.setEffect(effectCarbs, nil, e.now())

	if err := e.updateLocked(ctx); err != nil {
		return 0, err
	}
	return e.recommendBolusLocked()
}

// updateLocked refreshes missing effects and recomputes the prediction and
// recommendation when the prediction is stale.
func (e *Engine) updateLocked(ctx context.Context) error {
	e.refreshMissingLocked(ctx)

	if e.state.prediction != nil {
		return nil
	}

	err := e.predictLocked(ctx)
	if err != nil {
		// A failed prediction leaves nothing cached
		e.state.setPrediction(nil)
	}
	return err
}

// predictLocked runs the prediction and recommendation step against fresh
// inputs and a single configuration snapshot.
func (e *Engine) predictLocked(ctx context.Context) (err error) {
	now := e.now()

	var latest *models.GlucoseSample
	var rec *models.TempBasalRecommendation

	defer func() {
		e.logCycleLocked(latest, rec, err)
	}()

	if e.glucose == nil {
		return &MissingDataError{Detail: "glucose store not available"}
	}
	latest, glucoseErr := e.glucose.LatestGlucose(ctx)
	if glucoseErr != nil || latest == nil {
		return &MissingDataError{Detail: "no glucose value available"}
	}

	if e.pump == nil {
		return &MissingDataError{Detail: "no pump status available"}
	}
	status := e.pump.LatestStatus()
	if status == nil {
		return &MissingDataError{Detail: "no pump status available"}
	}

	// Exactly RecencyInterval old still counts as fresh
	if age := now.Sub(latest.Date); age > RecencyInterval {
		return &StaleDataError{Detail: "glucose data is too old", Date: latest.Date}
	}
	if age := now.Sub(status.Date); age > RecencyInterval {
		return &StaleDataError{Detail: "pump status is too old", Date: status.Date}
	}

	if !e.state.effectsComplete() {
		return &MissingDataError{Detail: "Cannot predict glucose due to missing effect data"}
	}

	pred := prediction.Project(*latest, e.state.momentum, e.state.carbs, e.state.insulin)
	e.state.setPrediction(pred)

	settings := e.settings.TherapySettings()
	switch {
	case settings.MaximumBasalRatePerHour == nil:
		return &MissingDataError{Detail: "maximum basal rate not configured"}
	case len(settings.GlucoseTargetRange) == 0:
		return &MissingDataError{Detail: "glucose target range not configured"}
	case len(settings.InsulinSensitivity) == 0:
		return &MissingDataError{Detail: "insulin sensitivity not configured"}
	case len(settings.BasalRates) == 0:
		return &MissingDataError{Detail: "basal rate schedule not configured"}
	}

	rec = prediction.RecommendTempBasal(
		pred,
		e.lastTempBasal,
		*settings.MaximumBasalRatePerHour,
		settings.GlucoseTargetRange,
		settings.InsulinSensitivity,
		settings.BasalRates,
		allowPredictiveTempBelowRange,
		now,
	)
	if rec != nil {
		rec.IssuedAt = now
	}
	e.state.setRecommendation(rec)

	return nil
}

// logCycleLocked emits the structured record every prediction attempt leaves
// behind, success or not.
func (e *Engine) logCycleLocked(latest *models.GlucoseSample, rec *models.TempBasalRecommendation, err error) {
	attrs := []any{
		slog.Bool("momentum", e.state.momentum != nil),
		slog.Bool("carbs", e.state.carbs != nil),
		slog.Bool("insulin", e.state.insulin != nil),
	}
	if latest != nil {
		attrs = append(attrs,
			slog.Float64("glucose", latest.Value),
			slog.Time("glucose_date", latest.Date),
		)
	}
	if len(e.state.prediction) > 0 {
		attrs = append(attrs, slog.Float64("eventual_glucose", e.state.prediction.EventualGlucose()))
	}
	if rec != nil {
		attrs = append(attrs,
			slog.Float64("recommended_rate", rec.Rate),
			slog.Duration("recommended_duration", rec.Duration),
		)
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		e.logger.Warn("loop cycle did not produce a dose", attrs...)
		return
	}
	e.logger.Info("loop cycle evaluated", attrs...)
}

// recordLoopErrorLocked stores the tick's error and raises the analytics and
// alert side effects tied to that transition.
func (e *Engine) recordLoopErrorLocked(err error) {
	e.lastLoopError = err
	if e.metrics != nil {
		e.metrics.RecordLoopError(errorKind(err))
	}
	if e.notifier != nil {
		e.notifier.LoopFailed(err)
	}
}

// recordLoopCompletedLocked stamps the completion and reschedules the
// watchdog.
func (e *Engine) recordLoopCompletedLocked() {
	e.lastLoopCompleted = e.now()
	if e.metrics != nil {
		e.metrics.RecordLoopSuccess()
	}
	if e.notifier != nil {
		e.notifier.LoopCompleted(e.lastLoopCompleted)
	}
}

// notifyLocked emits LoopDataUpdated unless the sentry quiet window is open;
// observers hear exactly once per settled tick.
func (e *Engine) notifyLocked() {
	if e.waitingForSentry || e.events == nil {
		return
	}
	e.events.Publish(bus.LoopDataUpdated)
}
