// Package resilience implements the retry, circuit breaker, rate limiter,
// and health-registry primitives shared by every outbound call (spec §4.1,
// §5). The breaker state machine is adapted from the teacher's
// internal/circuitbreaker/breaker.go — same mutex-guarded three-state
// design, without a generation counter — narrowed to the Closed/Open/HalfOpen transition rules spec §4.1
// actually specifies (consecutive-failure trip, consecutive-probe-success
// close) instead of the teacher's rolling failure-ratio trip.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aegisrt/core/internal/apierr"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures one protected endpoint.
type BreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures in Closed before tripping to Open
	ResetTimeout     time.Duration // time in Open before admitting a HalfOpen probe
	HalfOpenProbes   int           // consecutive successful probes in HalfOpen required to close
	OnStateChange    func(name string, from, to State)
}

func (c *BreakerConfig) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 2
	}
}

// Breaker is a per-endpoint circuit breaker. State transitions are the only
// side effect; it never rewrites the protected call's result (spec §4.1).
type Breaker struct {
	cfg BreakerConfig

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	openedAt             time.Time
}

// NewBreaker constructs a breaker in the Closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.setDefaults()
	return &Breaker{cfg: cfg, state: StateClosed}
}

func (b *Breaker) Name() string { return b.cfg.Name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireOpen(time.Now())
	return b.state
}

// maybeExpireOpen transitions Open -> HalfOpen once resetTimeout elapses.
// Caller must hold b.mu.
func (b *Breaker) maybeExpireOpen(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen, now)
		b.halfOpenInFlight = 0
		b.consecutiveSuccesses = 0
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateOpen {
		b.openedAt = now
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	} else {
		slog.Info("circuit breaker state change", "name", b.cfg.Name, "from", from, "to", to)
	}
}

// admit checks whether a call may proceed and, if so, reserves a HalfOpen
// probe slot. Returns apierr.ErrCircuitOpen if the call must be shed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.maybeExpireOpen(now)

	switch b.state {
	case StateOpen:
		return apierr.ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenProbes {
			return apierr.ErrCircuitOpen
		}
		b.halfOpenInFlight++
	}
	return nil
}

func (b *Breaker) report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateClosed:
		if success {
			b.consecutiveFailures = 0
		} else {
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.transition(StateOpen, now)
			}
		}
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if success {
			b.consecutiveSuccesses++
			if b.consecutiveSuccesses >= b.cfg.HalfOpenProbes {
				b.consecutiveFailures = 0
				b.consecutiveSuccesses = 0
				b.transition(StateClosed, now)
			}
		} else {
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
			b.transition(StateOpen, now)
		}
	}
}

// Execute runs fn if the breaker admits the call, classifying the result.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	result, err := fn()
	b.report(err == nil)
	return result, err
}

// ExecuteContext is Execute with a context-aware function.
func ExecuteContext[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	b.report(err == nil)
	return result, err
}

// Manager is a registry of named breakers, one per protected resource.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults BreakerConfig
}

// NewManager creates a registry using defaults for any breaker created via
// Get without a prior GetOrCreate.
func NewManager(defaults BreakerConfig) *Manager {
	defaults.setDefaults()
	return &Manager{breakers: make(map[string]*Breaker), defaults: defaults}
}

// GetOrCreate returns the named breaker, creating it with cfg (or the
// manager defaults if cfg is nil) on first use.
func (m *Manager) GetOrCreate(name string, cfg *BreakerConfig) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}
	c := m.defaults
	if cfg != nil {
		c = *cfg
	}
	c.Name = name
	b = NewBreaker(c)
	m.breakers[name] = b
	return b
}

// Get returns the named breaker using manager defaults, creating it if
// necessary.
func (m *Manager) Get(name string) *Breaker { return m.GetOrCreate(name, nil) }

// Snapshot reports the current state of every registered breaker.
func (m *Manager) Snapshot() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.State()
	}
	return out
}
