// Package breaker implements a three-state circuit breaker wrapping
// calls to the external trading platform.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/pkg/metrics"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned without invoking the wrapped call while the
// breaker is open.
type ErrOpen struct {
	Name       string
	RetryAfter time.Duration
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("circuit %s open, retry in %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

type Config struct {
	FailureThreshold int           // consecutive failures to trip
	SuccessThreshold int           // consecutive half-open successes to close
	Cooldown         time.Duration // open -> half-open delay
	HalfOpenMax      int           // max concurrent trial calls
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker 单个受保护依赖的断路器
type Breaker struct {
	name string
	cfg  Config

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	halfOpenInFlight int
	nextRetry        time.Time

	now func() time.Time
}

func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Execute runs fn under breaker protection. While open it fails fast
// with *ErrOpen and never invokes fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Before(b.nextRetry) {
			return &ErrOpen{Name: b.name, RetryAfter: b.nextRetry.Sub(b.now())}
		}
		// cool-down elapsed, allow trial calls
		b.transition(StateHalfOpen)
		b.successes = 0
		b.halfOpenInFlight = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMax {
			return &ErrOpen{Name: b.name, RetryAfter: 0}
		}
		b.halfOpenInFlight++
		return nil
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err != nil {
		b.onFailure()
		return
	}
	b.onSuccess()
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		// any half-open failure reopens with a fresh cool-down
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.transition(StateOpen)
	b.nextRetry = b.now().Add(b.cfg.Cooldown)
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	logger.Warn("circuit state change", "name", b.name, "from", b.state.String(), "to", to.String())
	metrics.CircuitTransitions.WithLabelValues(b.name, to.String()).Inc()
	b.state = to
}

// Registry 按名字持有各依赖的断路器
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.cfg)
	r.breakers[name] = b
	return b
}
