// Package circuitbreaker guards calls to a flaky upstream. After enough
// consecutive failures the breaker opens and calls fail fast until a cooldown
// elapses; a successful probe streak closes it again.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the upstream while the breaker is open.
var ErrOpen = errors.New("circuit open")

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

// Config holds breaker parameters. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker from closed.
	FailureThreshold int
	// SuccessThreshold is the probe-success count that closes it from
	// half-open.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before allowing probes.
	Cooldown time.Duration
	// Component names the guarded upstream in errors and state changes.
	Component string
	// OnStateChange, when set, is invoked outside the breaker's lock.
	OnStateChange func(from, to State)
}

type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	cfg       Config
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{state: StateClosed, cfg: cfg}
}

// Call runs fn if the breaker allows it and records the outcome. While open,
// Call returns ErrOpen without touching the upstream; after the cooldown the
// next call becomes a half-open probe.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var transition func()
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.cfg.Component, ErrOpen)
		}
		transition = b.moveTo(StateHalfOpen)
	}
	b.mu.Unlock()
	if transition != nil {
		transition()
	}

	err := fn()

	b.mu.Lock()
	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.openedAt = time.Now()
			transition = b.moveTo(StateOpen)
		} else {
			transition = nil
		}
	} else {
		b.failures = 0
		b.successes++
		if b.state == StateHalfOpen && b.successes >= b.cfg.SuccessThreshold {
			transition = b.moveTo(StateClosed)
		} else {
			transition = nil
		}
	}
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
	return err
}

// moveTo changes state under the caller's lock and returns the deferred
// OnStateChange invocation, or nil when nothing changed.
func (b *Breaker) moveTo(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	if b.cfg.OnStateChange == nil {
		return nil
	}
	return func() { b.cfg.OnStateChange(from, to) }
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
