package loop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mrcode/glucoloop/internal/bus"
	"github.com/mrcode/glucoloop/internal/models"
	"github.com/mrcode/glucoloop/internal/pump"
)

// testClock is a mutable time source shared with the engine under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGlucoseStore struct {
	mu          sync.Mutex
	latest      *models.GlucoseSample
	latestErr   error
	momentum    models.EffectSeries
	momentumErr error
}

func (f *fakeGlucoseStore) LatestGlucose(context.Context) (*models.GlucoseSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.latestErr
}

func (f *fakeGlucoseStore) MomentumEffect(context.Context) (models.EffectSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.momentum, f.momentumErr
}

type fakeCarbStore struct {
	mu      sync.Mutex
	effects models.EffectSeries
	err     error
	added   []models.CarbEntry
	addErr  error
}

func (f *fakeCarbStore) CarbGlucoseEffects(context.Context, time.Time) (models.EffectSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.effects, f.err
}

func (f *fakeCarbStore) AddCarbEntry(_ context.Context, entry models.CarbEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, entry)
	return nil
}

type fakeDoseStore struct {
	mu      sync.Mutex
	effects models.EffectSeries
	err     error
	doses   []models.DoseEntry
}

func (f *fakeDoseStore) InsulinGlucoseEffects(context.Context, time.Time) (models.EffectSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.effects, f.err
}

func (f *fakeDoseStore) AddDose(_ context.Context, dose models.DoseEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doses = append(f.doses, dose)
	return nil
}

type tempBasalCall struct {
	Rate     float64
	Duration time.Duration
}

type fakeDevice struct {
	mu            sync.Mutex
	commands      bool
	tempErr       error
	bolusErr      error
	tempCalls     []tempBasalCall
	bolusCalls    []float64
	ackRemainders []time.Duration // optional per-call override of TimeRemaining
}

func (f *fakeDevice) SetTempBasal(_ context.Context, rate float64, duration time.Duration) (pump.TempBasalAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tempErr != nil {
		return pump.TempBasalAck{}, f.tempErr
	}
	remaining := duration
	if len(f.ackRemainders) > len(f.tempCalls) {
		remaining = f.ackRemainders[len(f.tempCalls)]
	}
	f.tempCalls = append(f.tempCalls, tempBasalCall{Rate: rate, Duration: duration})
	return pump.TempBasalAck{Rate: rate, TimeRemaining: remaining}, nil
}

func (f *fakeDevice) SetNormalBolus(_ context.Context, units float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bolusErr != nil {
		return f.bolusErr
	}
	f.bolusCalls = append(f.bolusCalls, units)
	return nil
}

func (f *fakeDevice) ReadStatus(context.Context) (pump.Status, error) {
	return pump.Status{}, errors.New("not implemented")
}

func (f *fakeDevice) Tune(context.Context) error { return nil }

func (f *fakeDevice) SupportsCommands() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands
}

func (f *fakeDevice) tempBasalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tempCalls)
}

type fakePump struct {
	mu        sync.Mutex
	status    *pump.Status
	device    pump.Device
	lastTuned time.Time
	tuneCalls int
}

func (f *fakePump) LatestStatus() *pump.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePump) ConnectedDevice() pump.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device
}

func (f *fakePump) LastTuned() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTuned
}

func (f *fakePump) Tune(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tuneCalls++
	return nil
}

type fakeSettingsProvider struct {
	mu       sync.Mutex
	settings models.TherapySettings
}

func (f *fakeSettingsProvider) TherapySettings() models.TherapySettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

type fakeDosingSwitch struct {
	mu      sync.Mutex
	enabled bool
}

func (f *fakeDosingSwitch) IsDosingEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeDosingSwitch) SetDosingEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []time.Time
	failed    []error
}

func (f *fakeNotifier) LoopCompleted(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, at)
}

func (f *fakeNotifier) LoopFailed(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, err)
}

type fakeMetrics struct {
	mu         sync.Mutex
	successes  int
	errors     map[string]int
	tempBasals int
	boluses    int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: make(map[string]int)}
}

func (f *fakeMetrics) RecordLoopSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeMetrics) RecordLoopError(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[kind]++
}

func (f *fakeMetrics) RecordTempBasalEnacted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tempBasals++
}

func (f *fakeMetrics) RecordBolusEnacted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boluses++
}

// eventCounter tallies bus topics thread-safely
type eventCounter struct {
	mu     sync.Mutex
	counts map[bus.Topic]int
}

func newEventCounter(events *bus.Bus, topics ...bus.Topic) *eventCounter {
	c := &eventCounter{counts: make(map[bus.Topic]int)}
	for _, topic := range topics {
		events.Subscribe(topic, func(ev bus.Event) {
			c.mu.Lock()
			c.counts[ev.Topic]++
			c.mu.Unlock()
		})
	}
	return c
}

func (c *eventCounter) count(topic bus.Topic) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[topic]
}

// harness bundles an engine with all its fakes, preconfigured for a healthy
// tick: fresh glucose and pump status, working stores, complete settings.
type harness struct {
	engine   *Engine
	clock    *testClock
	events   *bus.Bus
	glucose  *fakeGlucoseStore
	carbs    *fakeCarbStore
	doses    *fakeDoseStore
	device   *fakeDevice
	pump     *fakePump
	settings *fakeSettingsProvider
	dosing   *fakeDosingSwitch
	notifier *fakeNotifier
	metrics  *fakeMetrics
	counter  *eventCounter
}

func floatPtr(v float64) *float64 { return &v }

// flatSeries is an effect series of constant cumulative delta
func flatSeries(anchor time.Time, delta float64) models.EffectSeries {
	series := models.EffectSeries{{Date: anchor, Delta: 0}}
	for i := 1; i <= 6; i++ {
		series = append(series, models.EffectPoint{Date: anchor.Add(time.Duration(i) * 5 * time.Minute), Delta: delta})
	}
	return series
}

func newHarness(opts ...func(*harness)) *harness {
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	now := clock.Now()

	h := &harness{
		clock:  clock,
		events: bus.New(),
		glucose: &fakeGlucoseStore{
			latest:   &models.GlucoseSample{Date: now, Value: 120, Device: "cgm"},
			momentum: flatSeries(now, 0),
		},
		carbs: &fakeCarbStore{effects: flatSeries(now, 0)},
		doses: &fakeDoseStore{effects: flatSeries(now, 0)},
		device: &fakeDevice{
			commands: true,
		},
		settings: &fakeSettingsProvider{settings: models.TherapySettings{
			MaximumBasalRatePerHour: floatPtr(3.0),
			MaximumBolus:            floatPtr(10.0),
			GlucoseTargetRange:      models.TargetSchedule{{StartMinute: 0, Min: 90, Max: 110}},
			InsulinSensitivity:      models.DailySchedule{{StartMinute: 0, Value: 50}},
			BasalRates:              models.DailySchedule{{StartMinute: 0, Value: 1.0}},
		}},
		dosing:   &fakeDosingSwitch{},
		notifier: &fakeNotifier{},
		metrics:  newFakeMetrics(),
	}
	h.pump = &fakePump{
		status: &pump.Status{Date: now},
		device: h.device,
	}
	h.counter = newEventCounter(h.events, bus.LoopDataUpdated, bus.LoopRunning)

	for _, opt := range opts {
		opt(h)
	}

	h.engine = New(Options{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events:            h.events,
		Glucose:           h.glucose,
		Carbs:             h.carbs,
		Doses:             h.doses,
		Pump:              h.pump,
		Settings:          h.settings,
		Dosing:            h.dosing,
		Notifier:          h.notifier,
		Metrics:           h.metrics,
		Clock:             clock.Now,
		SentryQuietWindow: 40 * time.Millisecond,
	})
	return h
}
