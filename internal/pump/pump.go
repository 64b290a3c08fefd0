// Package pump models the insulin pump as seen by the decision engine: the
// latest telemetry status, the connected device handle, and radio tuning
// state. The pump radio is a process-wide exclusive resource; command
// dispatch is serialized by the engine's decision queue.
package pump

import (
	"context"
	"sync"
	"time"

	"github.com/mrcode/glucoloop/internal/bus"
)

// Status is the most recent pump telemetry: the pump's clock and the time
// remaining on the currently running temp basal.
type Status struct {
	Date          time.Time     `json:"date"`
	TimeRemaining time.Duration `json:"timeRemaining"`
}

// TempBasalAck is the pump's acknowledgement of a temp basal command
type TempBasalAck struct {
	Rate          float64       `json:"rate"` // U/h as programmed
	TimeRemaining time.Duration `json:"timeRemaining"`
}

// Device is a handle to pump hardware (or a bridge to it)
type Device interface {
	// SetTempBasal programs a temporary basal rate
	SetTempBasal(ctx context.Context, rate float64, duration time.Duration) (TempBasalAck, error)

	// SetNormalBolus delivers a standard bolus
	SetNormalBolus(ctx context.Context, units float64) error

	// ReadStatus fetches current pump telemetry
	ReadStatus(ctx context.Context) (Status, error)

	// Tune retunes the pump radio frequency
	Tune(ctx context.Context) error

	// SupportsCommands reports whether a command channel is configured
	SupportsCommands() bool
}

// Manager owns the connected device and the latest telemetry. The decision
// engine holds a non-owning reference; the manager outlives it.
type Manager struct {
	mu        sync.RWMutex
	device    Device
	status    *Status
	lastTuned time.Time
	events    *bus.Bus
}

// NewManager creates a manager with no device connected. events may be nil.
func NewManager(events *bus.Bus) *Manager {
	return &Manager{events: events}
}

// SetDevice attaches (or with nil detaches) the pump device
func (m *Manager) SetDevice(d Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = d
}

// ConnectedDevice returns the current device, or nil when none is connected
func (m *Manager) ConnectedDevice() Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.device
}

// LatestStatus returns the most recent telemetry, or nil before the first
// status arrives.
func (m *Manager) LatestStatus() *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// UpdateStatus records new telemetry and signals PumpStatusUpdated
func (m *Manager) UpdateStatus(st Status) {
	m.mu.Lock()
	m.status = &st
	events := m.events
	m.mu.Unlock()

	if events != nil {
		events.Publish(bus.PumpStatusUpdated)
	}
}

// LastTuned returns when the radio last tuned successfully
func (m *Manager) LastTuned() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTuned
}

// Tune retunes the radio on the connected device and records the time
func (m *Manager) Tune(ctx context.Context) error {
	dev := m.ConnectedDevice()
	if dev == nil {
		return ErrNoDevice
	}
	if err := dev.Tune(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastTuned = time.Now()
	m.mu.Unlock()
	return nil
}
