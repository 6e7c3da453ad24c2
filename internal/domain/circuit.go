package domain

import "time"

// CircuitStateKind is the three-way breaker state.
type CircuitStateKind int

const (
	CircuitClosed CircuitStateKind = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitStateKind) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitConfig tunes one breaker's thresholds.
type CircuitConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenAttempts int
}

// DefaultCircuitConfig matches the spec's defaults:
// failureThreshold=3, resetTimeout=30s, halfOpenAttempts=2.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		HalfOpenAttempts: 2,
	}
}

// CircuitState is the observable snapshot of one upstream's breaker.
type CircuitState struct {
	State              CircuitStateKind
	ConsecutiveFailures int
	OpenUntil          time.Time
	HalfOpenSuccesses  int
	LastError          string
}
