package retry

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker's operational state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a [Breaker].
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker (default 5).
	MaxFailures int
	// Cooldown is how long the breaker stays open (default 10s).
	Cooldown time.Duration
	// OnStateChange runs under the breaker lock on every transition.
	OnStateChange func(from, to State)
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Breaker short-circuits an operation that keeps failing.  The gateway
// wraps shell spawning with it: when fork or pty allocation fail
// repeatedly the host is out of processes or ptys.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	maxFailures   int
	cooldown      time.Duration
	openedAt      time.Time
	probing       bool
	onStateChange func(from, to State)
	now           func() time.Time
}

// NewBreaker creates a breaker; a nil config selects the defaults.
func NewBreaker(cfg *BreakerConfig) *Breaker {
	if cfg == nil {
		cfg = &BreakerConfig{}
	}
	b := &Breaker{
		maxFailures:   cfg.MaxFailures,
		cooldown:      cfg.Cooldown,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
	if b.maxFailures <= 0 {
		b.maxFailures = 5
	}
	if b.cooldown <= 0 {
		b.cooldown = 10 * time.Second
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// OpenError is returned by Execute while the breaker rejects calls.
type OpenError struct {
	Failures int
	RetryIn  time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open after %d consecutive failures, retry in %v",
		e.Failures, e.RetryIn.Truncate(time.Millisecond))
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// CurrentState returns the breaker state.  An open breaker whose
// cool-down has elapsed reports half-open.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cooldown {
			return &OpenError{Failures: b.failures, RetryIn: b.cooldown - elapsed}
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return &OpenError{Failures: b.failures}
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		b.transition(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
