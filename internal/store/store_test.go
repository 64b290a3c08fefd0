package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/glucoloop/internal/bus"
	"github.com/mrcode/glucoloop/internal/models"
	"github.com/mrcode/glucoloop/internal/prediction"
)

func newTestStore(t *testing.T, events *bus.Bus) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), prediction.DefaultParameters(), events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_GlucoseRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	latest, err := s.LatestGlucose(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty store should have no latest glucose")

	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.AddGlucoseSample(ctx, models.GlucoseSample{Date: now.Add(-5 * time.Minute), Value: 115, Device: "cgm"}))
	require.NoError(t, s.AddGlucoseSample(ctx, models.GlucoseSample{Date: now, Value: 120, Device: "cgm"}))

	latest, err = s.LatestGlucose(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 120.0, latest.Value)
	assert.True(t, latest.Date.Equal(now))
}

func TestStore_WritesSignalBus(t *testing.T) {
	ctx := context.Background()
	events := bus.New()
	defer events.Close()

	var glucoseSignals, carbSignals int
	events.Subscribe(bus.GlucoseUpdated, func(bus.Event) { glucoseSignals++ })
	events.Subscribe(bus.CarbEntriesUpdated, func(bus.Event) { carbSignals++ })

	s := newTestStore(t, events)
	require.NoError(t, s.AddGlucoseSample(ctx, models.GlucoseSample{Date: time.Now(), Value: 110}))
	require.NoError(t, s.AddCarbEntry(ctx, models.CarbEntry{Date: time.Now(), Grams: 30}))

	assert.Equal(t, 1, glucoseSignals)
	assert.Equal(t, 1, carbSignals)
}

func TestStore_MomentumEffect(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	_, err := s.MomentumEffect(ctx)
	assert.Error(t, err, "momentum without samples must fail")

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddGlucoseSample(ctx, models.GlucoseSample{
			Date:  now.Add(time.Duration(-i*5) * time.Minute),
			Value: 120 + float64((2-i)*5),
		}))
	}

	series, err := s.MomentumEffect(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, series)
	assert.Equal(t, 0.0, series[0].Delta)
	assert.Greater(t, series[len(series)-1].Delta, 0.0, "rising glucose gives positive momentum")
}

func TestStore_CarbEffects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	now := time.Now()

	require.Error(t, s.AddCarbEntry(ctx, models.CarbEntry{Date: now, Grams: 0}))
	require.NoError(t, s.AddCarbEntry(ctx, models.CarbEntry{Date: now.Add(-10 * time.Minute), Grams: 45}))

	series, err := s.CarbGlucoseEffects(ctx, now)
	require.NoError(t, err)
	require.NotEmpty(t, series)
	assert.Greater(t, series[len(series)-1].Delta, 0.0, "outstanding carbs raise glucose")
}

func TestStore_InsulinEffects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	now := time.Now()

	require.NoError(t, s.AddDose(ctx, models.DoseEntry{Type: models.DoseBolus, Date: now.Add(-10 * time.Minute), Units: 2}))

	series, err := s.InsulinGlucoseEffects(ctx, now)
	require.NoError(t, err)
	require.NotEmpty(t, series)
	assert.Less(t, series[len(series)-1].Delta, 0.0, "outstanding insulin suppresses glucose")
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	now := time.Now()

	require.NoError(t, s.AddGlucoseSample(ctx, models.GlucoseSample{Date: now.Add(-48 * time.Hour), Value: 100}))
	require.NoError(t, s.AddGlucoseSample(ctx, models.GlucoseSample{Date: now, Value: 120}))
	require.NoError(t, s.Prune(ctx, now.Add(-24*time.Hour)))

	samples, err := s.RecentGlucose(ctx, now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 120.0, samples[0].Value)
}
