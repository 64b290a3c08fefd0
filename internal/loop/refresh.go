package loop

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcode/glucoloop/internal/models"
)

// refreshResult carries one effect fetch back to the decision step
type refreshResult struct {
	series models.EffectSeries
	err    error
}

// refreshMissingLocked repopulates every effect slot that is currently
// empty. The three store requests fan out in parallel and all complete
// before the step continues; a per-effect failure leaves that slot empty and
// is logged, without aborting the others.
func (e *Engine) refreshMissingLocked(ctx context.Context) {
	missing := make([]effectKey, 0, 3)
	for _, k := range []effectKey{effectMomentum, effectCarbs, effectInsulin} {
		if e.state.effect(k) == nil {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return
	}

	// Effects are anchored at the latest glucose sample; without one the
	// stores still answer and the prediction step reports the real problem.
	anchor := e.now().Add(-RecencyInterval)
	if e.glucose != nil {
		if latest, err := e.glucose.LatestGlucose(ctx); err == nil && latest != nil {
			anchor = latest.Date
		}
	}

	results := make(map[effectKey]refreshResult, len(missing))
	var resultsMu sync.Mutex
	var g errgroup.Group

	for _, k := range missing {
		g.Go(func() error {
			series, err := e.fetchEffect(ctx, k, anchor)
			resultsMu.Lock()
			results[k] = refreshResult{series: series, err: err}
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, k := range missing {
		result := results[k]
		if result.err != nil {
			e.logger.Error("effect refresh failed",
				"effect", k.String(),
				"error", result.err.Error(),
			)
			e.state.setEffect(k, nil, e.now())
			continue
		}
		e.state.setEffect(k, result.series, e.now())
	}
}

// fetchEffect dispatches one effect request to its collaborator store
func (e *Engine) fetchEffect(ctx context.Context, k effectKey, anchor time.Time) (models.EffectSeries, error) {
	switch k {
	case effectMomentum:
		if e.glucose == nil {
			return nil, &MissingDataError{Detail: "glucose store not available"}
		}
		return e.glucose.MomentumEffect(ctx)
	case effectCarbs:
		if e.carbs == nil {
			return nil, &MissingDataError{Detail: "carb store not available"}
		}
		return e.carbs.CarbGlucoseEffects(ctx, anchor)
	default:
		if e.doses == nil {
			return nil, &MissingDataError{Detail: "dose store not available"}
		}
		return e.doses.InsulinGlucoseEffects(ctx, anchor)
	}
}
