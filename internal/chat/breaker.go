package chat

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Allow while the agent backend is being
// shed. It maps to the same failure path as a direct backend error.
var ErrBreakerOpen = errors.New("agent backend circuit open")

// BreakerState is the circuit position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota // normal operation
	BreakerOpen                       // shedding, all calls rejected
	BreakerHalfOpen                   // probing for recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker guarding the agent call.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes required to close
	CoolDown         time.Duration // open duration before probing again
}

// DefaultBreakerConfig returns the standard thresholds. The cool-down is
// long relative to the retry backoff so a struggling agent process gets
// room to recover instead of absorbing the full request rate.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
	}
}

// Breaker sheds agent calls after repeated failures. A turn rejected by
// the breaker fails the same way a backend error does: the user message
// is already committed and the apology message is persisted.
//
// State machine: closed -> open after FailureThreshold consecutive
// failures; open -> half-open once CoolDown elapses; half-open -> closed
// after SuccessThreshold successes, or straight back to open on any
// failure.
type Breaker struct {
	mu sync.Mutex

	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time

	failureThreshold int
	successThreshold int
	coolDown         time.Duration
}

// NewBreaker creates a Breaker. Zero config fields select the defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = def.CoolDown
	}

	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		coolDown:         cfg.CoolDown,
	}
}

// Allow reports whether a call may proceed. The open -> half-open
// transition happens here, under the lock, so exactly one caller
// observes the flip.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) > b.coolDown {
			b.state = BreakerHalfOpen
			b.successes = 0
			return nil
		}
		return ErrBreakerOpen
	default:
		return nil
	}
}

// RecordSuccess notes a successful agent call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed agent call (after the retry envelope, so
// one recorded failure already represents the full retry budget).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.successes = 0
	}
}

// State returns the current circuit position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
