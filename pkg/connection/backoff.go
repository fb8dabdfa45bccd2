package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff defaults.
const (
	// DefaultInitialDelay is the delay before the first redial attempt.
	DefaultInitialDelay = 1 * time.Second

	// DefaultMaxDelay caps the redial delay.
	DefaultMaxDelay = 60 * time.Second

	// DefaultFactor is the growth factor between attempts.
	DefaultFactor = 2.0

	// DefaultJitter is the maximum random fraction added to each delay.
	DefaultJitter = 0.25
)

// Backoff produces exponentially growing redial delays with jitter.
// Safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	delay    time.Duration
	initial  time.Duration
	cap      time.Duration
	factor   float64
	jitter   float64
	attempts int
	rng      *rand.Rand
}

// BackoffConfig customizes a Backoff. Zero fields select the defaults.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       float64
}

// NewBackoff creates a backoff with the default parameters.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// NewBackoffWithConfig creates a backoff with custom parameters.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Factor <= 1 {
		cfg.Factor = DefaultFactor
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{
		delay:   cfg.InitialDelay,
		initial: cfg.InitialDelay,
		cap:     cfg.MaxDelay,
		factor:  cfg.Factor,
		jitter:  cfg.Jitter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the jittered delay for the upcoming attempt and grows
// the base delay for the one after.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.jittered(b.delay)
	b.attempts++

	grown := time.Duration(float64(b.delay) * b.factor)
	if grown > b.cap {
		grown = b.cap
	}
	b.delay = grown
	return d
}

// Reset restores the initial delay. Call after a successful dial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last
// Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
