package daemon

import (
	"fmt"
	"time"
)

// DefaultMaxErrorDuration is how long cycles may keep failing before the
// daemon gives up
const DefaultMaxErrorDuration = 30 * time.Minute

// HealthStatus is the error escalation state
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Fatal
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("health(%d)", int(s))
	}
}

// Health tracks continuous failure. Since is when the current run of
// failures started and is zero while healthy.
type Health struct {
	Status HealthStatus
	Since  time.Time
}

// OnSuccess resets the failure window. Fatal is terminal.
func (h Health) OnSuccess() Health {
	if h.Status == Fatal {
		return h
	}
	return Health{Status: Healthy}
}

// OnFailure records a failed cycle at now. Failures that have lasted longer
// than maxErrorDuration turn fatal.
func (h Health) OnFailure(now time.Time, maxErrorDuration time.Duration) Health {
	switch h.Status {
	case Healthy:
		return Health{Status: Degraded, Since: now}
	case Degraded:
		if now.Sub(h.Since) > maxErrorDuration {
			return Health{Status: Fatal, Since: h.Since}
		}
		return h
	default:
		return h
	}
}
