package pump

import (
	"context"
	"sync"
	"time"
)

// Simulator is an in-process Device for development rigs and tests. It
// acknowledges commands immediately and reports a status clock that tracks
// wall time.
type Simulator struct {
	mu sync.Mutex

	commandsEnabled bool
	tempRate        float64
	tempEnd         time.Time
	bolusDelivered  float64
}

// NewSimulator creates a simulator with commands enabled
func NewSimulator() *Simulator {
	return &Simulator{commandsEnabled: true}
}

// DisableCommands removes the simulated command channel
func (s *Simulator) DisableCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandsEnabled = false
}

// SetTempBasal acknowledges the command with the full duration remaining
func (s *Simulator) SetTempBasal(_ context.Context, rate float64, duration time.Duration) (TempBasalAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tempRate = rate
	s.tempEnd = time.Now().Add(duration)
	return TempBasalAck{Rate: rate, TimeRemaining: duration}, nil
}

// SetNormalBolus records the delivered units
func (s *Simulator) SetNormalBolus(_ context.Context, units float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bolusDelivered += units
	return nil
}

// ReadStatus reports the simulated pump clock and remaining temp time
func (s *Simulator) ReadStatus(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var remaining time.Duration
	if s.tempEnd.After(now) {
		remaining = s.tempEnd.Sub(now)
	}
	return Status{Date: now, TimeRemaining: remaining}, nil
}

// Tune always succeeds
func (s *Simulator) Tune(context.Context) error {
	return nil
}

// SupportsCommands reports the simulated command channel state
func (s *Simulator) SupportsCommands() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandsEnabled
}

// TotalBolusDelivered returns the cumulative simulated bolus units
func (s *Simulator) TotalBolusDelivered() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bolusDelivered
}
