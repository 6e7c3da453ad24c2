// Package breaker implements the per-upstream circuit breaker (spec §4.4):
// a three-state machine (Closed/Open/HalfOpen) that isolates a failing
// backend without sharing state across processes.
//
// Grounded on
// C-NASIR-distributed-rate-limiter/internal/ratelimit/circuit.go's
// three-state shape, adapted from an atomic in-flight counter to a
// mutex-guarded record with success-counted half-open recovery, per the
// spec's concurrency model (§5: "guarded by a mutex... local to each
// upstream's record") and half-open rule (§4.4: counts consecutive
// successes, not concurrent probes).
package breaker

import (
	"sync"
	"time"

	"github.com/riftgate/gateway/internal/domain"
)

// Breaker is one upstream's circuit-breaker record.
type Breaker struct {
	mu     sync.Mutex
	cfg    domain.CircuitConfig
	state  domain.CircuitStateKind
	fails  int
	openUntil time.Time
	halfOpenSuccesses int
	lastErr string
}

// New constructs a Breaker in the Closed state.
func New(cfg domain.CircuitConfig) *Breaker {
	if cfg.FailureThreshold <= 0 || cfg.ResetTimeout <= 0 || cfg.HalfOpenAttempts <= 0 {
		def := domain.DefaultCircuitConfig()
		if cfg.FailureThreshold <= 0 {
			cfg.FailureThreshold = def.FailureThreshold
		}
		if cfg.ResetTimeout <= 0 {
			cfg.ResetTimeout = def.ResetTimeout
		}
		if cfg.HalfOpenAttempts <= 0 {
			cfg.HalfOpenAttempts = def.HalfOpenAttempts
		}
	}
	return &Breaker{cfg: cfg, state: domain.CircuitClosed}
}

// Allow decides whether a call may proceed, transitioning Open->HalfOpen
// when the reset timeout has elapsed. It must be called before every
// upstream call; Record* must be called after, exactly once, to report the
// outcome.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitClosed:
		return true
	case domain.CircuitOpen:
		if !now.Before(b.openUntil) {
			b.state = domain.CircuitHalfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	case domain.CircuitHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess reports that the admitted call succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenAttempts {
			b.state = domain.CircuitClosed
			b.fails = 0
			b.halfOpenSuccesses = 0
		}
	case domain.CircuitClosed:
		b.fails = 0
	}
}

// RecordFailure reports that the admitted call failed (transport error,
// timeout, or 5xx — never a plain non-2xx).
func (b *Breaker) RecordFailure(now time.Time, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastErr = errMsg

	switch b.state {
	case domain.CircuitHalfOpen:
		b.trip(now)
	case domain.CircuitClosed:
		b.fails++
		if b.fails >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = domain.CircuitOpen
	b.openUntil = now.Add(b.cfg.ResetTimeout)
	b.halfOpenSuccesses = 0
}

// Snapshot returns the current observable state.
func (b *Breaker) Snapshot() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.CircuitState{
		State:               b.state,
		ConsecutiveFailures: b.fails,
		OpenUntil:           b.openUntil,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
		LastError:           b.lastErr,
	}
}

// Registry is the process-scoped map of upstream name -> Breaker,
// initialized once at startup (spec §9: replace the module-scoped map of
// breakers with a process-scoped registry keyed by upstream name).
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      domain.CircuitConfig
}

// NewRegistry constructs a Registry that lazily creates one Breaker per
// upstream name on first use, all sharing cfg.
func NewRegistry(cfg domain.CircuitConfig) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// For returns the Breaker for the named upstream, creating it on first
// access.
func (r *Registry) For(upstream string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[upstream]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[upstream]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[upstream] = b
	return b
}
