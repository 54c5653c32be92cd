package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// StateClosed lets calls through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets probe calls through to test recovery.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned for calls rejected by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default: 5.
	FailureThreshold int
	// Cooldown is how long the circuit stays open. Default: 30s.
	Cooldown time.Duration
	// Probes successful half-open calls close the circuit again. Default: 1.
	Probes int
	// Counts decides which errors count as failures. Default: every non-nil error.
	Counts func(err error) bool
	// OnTransition observes state changes.
	OnTransition func(from, to BreakerState)
}

// DefaultBreakerConfig returns the breaker settings used for API calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// CircuitBreaker fails fast after repeated failures of one remote service.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	d := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = d.Probes
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal runs fn through cb and returns its value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !cb.allow() {
		return zero, ErrCircuitOpen
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State returns the current state, reporting an expired open circuit as half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return true
	}
	if !cb.cooledDown() {
		return false
	}
	cb.setState(StateHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.cfg.Counts(err) {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.probes++
			if cb.probes >= cb.cfg.Probes {
				cb.setState(StateClosed)
			}
		}
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.now()
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.probes = 0
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.cfg.OnTransition != nil {
		cb.cfg.OnTransition(from, to)
	}
}
