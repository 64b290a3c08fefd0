package loop

import (
	"context"
	"time"

	"github.com/mrcode/glucoloop/internal/bus"
)

// retuneCooldown throttles radio retune attempts triggered by rapid glucose
// updates; the engine records its own attempts rather than trusting only the
// device's last-tuned timestamp.
const retuneCooldown = 15 * time.Minute

// handleGlucoseUpdated reacts to a new sensor reading: the momentum effect is
// stale, and a silent pump may need its radio retuned.
func (e *Engine) handleGlucoseUpdated() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.setEffect(effectMomentum, nil, e.now())
	e.notifyLocked()

	e.maybeRetuneLocked()
}

// maybeRetuneLocked requests a radio retune when pump telemetry has gone
// quiet and neither the radio nor this engine has tried one recently.
func (e *Engine) maybeRetuneLocked() {
	if e.pump == nil {
		return
	}
	now := e.now()

	status := e.pump.LatestStatus()
	if status != nil && now.Sub(status.Date) <= RecencyInterval {
		return
	}
	if now.Sub(e.pump.LastTuned()) <= RecencyInterval {
		return
	}
	if now.Sub(e.lastTuneAttempt) <= retuneCooldown {
		return
	}
	e.lastTuneAttempt = now

	// Fire and forget; the outcome only matters to the log
	go func() {
		if err := e.pump.Tune(context.Background()); err != nil {
			e.logger.Error("pump radio retune failed", "error", err.Error())
			return
		}
		e.logger.Info("pump radio retuned")
	}()
}

// handlePumpStatusUpdated opens the sentry quiet window: observers hear
// LoopRunning immediately, then nothing until the delayed run settles. The
// delay sidesteps the pump's telemetry burst pattern.
func (e *Engine) handlePumpStatusUpdated() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.waitingForSentry = true
	if e.events != nil {
		e.events.Publish(bus.LoopRunning)
	}

	if e.sentryTimer != nil {
		e.sentryTimer.Stop()
	}
	e.sentryTimer = time.AfterFunc(e.sentryDelay, e.sentryWindowClosed)
}

// sentryWindowClosed runs the delayed decision cycle as a single serial
// step: close the window, invalidate insulin (the status carries new
// delivery history), then loop.
func (e *Engine) sentryWindowClosed() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	e.waitingForSentry = false
	e.state.setEffect(effectInsulin, nil, e.now())
	e.runLoopLocked(context.Background())
}

// handleCarbEntriesUpdated reacts to edited carb history
func (e *Engine) handleCarbEntriesUpdated() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.setEffect(effectCarbs, nil, e.now())
	e.notifyLocked()
}
