// Package notifications handles system notifications and alerts
package notifications

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/mrcode/glucoloop/internal/models"
)

// Alert type constants
const (
	alertLoopError  = "loop_error"
	alertNotRunning = "loop_not_running"
)

// Manager raises alerts for loop failures and arms the "loop not running"
// watchdog. Every successful loop completion pushes the watchdog out; if no
// completion arrives within the configured window, the alert fires.
type Manager struct {
	settings      *models.Settings
	lastAlertTime map[string]time.Time
	watchdog      *time.Timer
	mu            sync.Mutex
}

// NewManager creates a new notification manager
func NewManager(settings *models.Settings) *Manager {
	return &Manager{
		settings:      settings,
		lastAlertTime: make(map[string]time.Time),
	}
}

// UpdateSettings updates the settings reference
func (m *Manager) UpdateSettings(settings *models.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// LoopCompleted reschedules the watchdog after a successful decision cycle
func (m *Manager) LoopCompleted(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.lastAlertTime, alertNotRunning)

	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	if !m.settings.EnableWatchdogAlert {
		return
	}

	window := time.Duration(m.settings.WatchdogWindowMinutes) * time.Minute
	m.watchdog = time.AfterFunc(window, func() {
		m.notifyThrottled(alertNotRunning,
			"⚠️ Loop Not Running",
			fmt.Sprintf("No completed loop since %s", at.Format("15:04")),
		)
	})
}

// LoopFailed raises a throttled alert for a failed decision cycle
func (m *Manager) LoopFailed(err error) {
	m.mu.Lock()
	enabled := m.settings.EnableLoopErrorAlert
	m.mu.Unlock()

	if !enabled {
		return
	}
	m.notifyThrottled(alertLoopError,
		"Loop Error",
		fmt.Sprintf("The loop could not complete: %v", err),
	)
}

// Stop cancels the pending watchdog
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

// notifyThrottled sends an alert unless the same type fired too recently
func (m *Manager) notifyThrottled(alertType, title, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shouldSend(alertType) {
		return
	}

	if err := m.sendNotification(title, message); err != nil {
		fmt.Printf("Notification error: %v\n", err)
		return
	}
	m.lastAlertTime[alertType] = time.Now()
}

// shouldSend reports whether an alert of this type may fire now.
// The caller must hold the lock.
func (m *Manager) shouldSend(alertType string) bool {
	lastTime, ok := m.lastAlertTime[alertType]
	if !ok {
		return true
	}
	if m.settings.RepeatAlertMinutes > 0 {
		repeatDuration := time.Duration(m.settings.RepeatAlertMinutes) * time.Minute
		return time.Since(lastTime) >= repeatDuration
	}
	// No repeat, only alert once per state change
	return false
}

// sendNotification sends a system notification
func (m *Manager) sendNotification(title, message string) error {
	// Use beeep for cross-platform notifications
	return beeep.Notify(title, message, "")
}

// ClearAlertState clears the alert state for a specific type or all types
func (m *Manager) ClearAlertState(alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alertType == "" {
		m.lastAlertTime = make(map[string]time.Time)
	} else {
		delete(m.lastAlertTime, alertType)
	}
}

// SendTestNotification sends a test notification
func (m *Manager) SendTestNotification() error {
	return beeep.Notify("glucoloop", "Test notification - alerts are working!", "")
}
