// Package circuitbreaker isolates the embedded engine when it is
// failing. Mission execution calls the engine on every start; if the
// engine is down, letting every mission_start hang until its deadline
// just stacks up doomed goroutines. The breaker counts consecutive
// engine failures and, past a threshold, fails mission starts
// immediately until a cooldown has passed and a probe call succeeds.
//
// Three states:
//   - Closed   – engine calls pass through; failure streaks are tracked.
//   - Open     – calls are refused without touching the engine.
//   - HalfOpen – after the cooldown, one probe call is let through.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the breaker is refusing engine calls.
type ErrOpen struct {
	LastErr string        // message of the failure that tripped or extended the streak
	Since   time.Duration // time since that failure
	RetryIn time.Duration // time until the next probe is allowed
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf(
		"engine suspended after repeated failures — last: %s (%s ago); next probe in %ds",
		e.LastErr,
		e.Since.Truncate(time.Second),
		int(e.RetryIn.Seconds()),
	)
}

// Breaker guards calls into the engine. Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	threshold int // consecutive failures before tripping; <=0 disables
	cooldown  time.Duration

	state     State
	streak    int
	lastErr   string
	failedAt  time.Time
	trippedAt time.Time

	totalFailures  int64
	totalSuccesses int64

	// nowFunc lets tests drive the cooldown clock.
	nowFunc func() time.Time
}

// New returns a Breaker that trips after threshold consecutive engine
// failures and probes again after cooldown. threshold <= 0 disables
// tripping entirely.
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     Closed,
		nowFunc:   time.Now,
	}
}

// Allow reports whether an engine call may proceed: nil to proceed, or
// *ErrOpen while calls are suspended. A nil return from an Open breaker
// means this caller holds the probe slot; concurrent callers are
// refused until the probe's outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.threshold <= 0 {
		return nil
	}

	now := b.nowFunc()

	switch b.state {
	case Closed:
		return nil

	case Open:
		if now.Sub(b.trippedAt) >= b.cooldown {
			b.state = HalfOpen
			return nil
		}
		return b.refusal(now, b.cooldown-now.Sub(b.trippedAt))

	case HalfOpen:
		// The probe slot is taken. Re-open so concurrent callers see a
		// fresh cooldown; the in-flight probe decides the final state
		// through RecordSuccess or RecordFailure.
		b.state = Open
		b.trippedAt = now
		return b.refusal(now, b.cooldown)
	}

	return nil
}

func (b *Breaker) refusal(now time.Time, retryIn time.Duration) *ErrOpen {
	return &ErrOpen{
		LastErr: b.lastErr,
		Since:   now.Sub(b.failedAt),
		RetryIn: retryIn,
	}
}

// RecordSuccess notes a successful engine call, clearing the failure
// streak and closing the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streak = 0
	b.totalSuccesses++
	b.state = Closed
}

// RecordFailure notes a failed engine call. Reaching the threshold, or
// failing the half-open probe, trips the breaker Open.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	b.streak++
	b.totalFailures++
	b.failedAt = now
	if err != nil {
		b.lastErr = err.Error()
	} else {
		b.lastErr = "unknown error"
	}

	if b.threshold <= 0 {
		return
	}
	if b.streak >= b.threshold || b.state == HalfOpen {
		b.state = Open
		b.trippedAt = now
	}
}

// State returns the breaker's current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time view of the breaker for observability.
type Stats struct {
	State          string `json:"state"`
	FailureStreak  int    `json:"failure_streak"`
	TotalFailures  int64  `json:"total_failures"`
	TotalSuccesses int64  `json:"total_successes"`
	LastFailure    string `json:"last_failure,omitempty"`
	LastFailureAt  string `json:"last_failure_at,omitempty"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		State:          b.state.String(),
		FailureStreak:  b.streak,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
	}
	if !b.failedAt.IsZero() {
		s.LastFailure = b.lastErr
		s.LastFailureAt = b.failedAt.Format(time.RFC3339)
	}
	return s
}
