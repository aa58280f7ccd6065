package session

import "time"

// Backoff hands out reconnect delays: Initial, then each delay times Multiplier, capped at
// Max, for at most MaxAttempts attempts. Reset returns it to the initial state.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int

	attempts int
	delay    time.Duration
}

func NewBackoff(cfg Config) Backoff {
	return Backoff{
		Initial:     cfg.InitialDelay,
		Max:         cfg.MaxDelay,
		Multiplier:  cfg.Multiplier,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Next returns the delay before the next attempt, or false once MaxAttempts attempts
// have been handed out.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempts >= b.MaxAttempts {
		return 0, false
	}
	if b.delay <= 0 {
		b.delay = b.Initial
	}
	b.attempts++
	current := b.delay

	next := time.Duration(float64(b.delay) * b.Multiplier)
	if next > b.Max {
		next = b.Max
	}
	b.delay = next
	return current, true
}

func (b *Backoff) Reset() {
	b.attempts = 0
	b.delay = b.Initial
}

func (b *Backoff) Attempts() int {
	return b.attempts
}

// Delay is the wait the next call to Next would return.
func (b *Backoff) Delay() time.Duration {
	if b.delay <= 0 {
		return b.Initial
	}
	return b.delay
}
