// Package loop implements the decision engine of the closed loop: the effect
// cache carried between ticks, the invalidation graph that keeps it honest,
// the serialized decision pipeline, and the freshness and safety gates that
// guard dosing.
package loop

import (
	"fmt"
	"time"
)

// MissingDataError reports a required input that is absent
type MissingDataError struct {
	Detail string
}

func (e *MissingDataError) Error() string {
	return e.Detail
}

// StaleDataError reports an input that is present but older than allowed
type StaleDataError struct {
	Detail string
	Date   time.Time
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("%s (as of %s)", e.Detail, e.Date.Format(time.RFC3339))
}

// ConnectionError reports that no pump device is connected
type ConnectionError struct{}

func (e *ConnectionError) Error() string {
	return "no pump device connected"
}

// ConfigurationError reports a device without a configured command channel
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return e.Detail
}

// CommunicationError wraps a device I/O failure
type CommunicationError struct {
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("pump communication failed: %v", e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// errorKind labels an error for metrics
func errorKind(err error) string {
	switch err.(type) {
	case *MissingDataError:
		return "missing_data"
	case *StaleDataError:
		return "stale_data"
	case *ConnectionError:
		return "connection"
	case *ConfigurationError:
		return "configuration"
	case *CommunicationError:
		return "communication"
	default:
		return "other"
	}
}
