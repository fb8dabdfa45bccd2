package keepalive

import (
	"sync"
	"time"
)

// Default monitoring parameters.
const (
	// DefaultInterval is the default interval between probes.
	DefaultInterval = 30 * time.Second

	// DefaultTimeout is the default timeout waiting for a probe response.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of missed responses before
	// the monitor reports failure.
	DefaultMaxRetries = 3

	// stopJoinTimeout bounds how long Stop waits for the monitoring
	// goroutine to exit.
	stopJoinTimeout = time.Second

	// minTickDelay floors timer resets so an already-expired deadline
	// fires promptly instead of spinning.
	minTickDelay = time.Millisecond
)

// Config configures a Monitor. Non-positive values are clamped to the
// documented defaults.
type Config struct {
	// Interval is the quiet time between probes.
	Interval time.Duration

	// Timeout is how long to wait for a response to a sent probe.
	Timeout time.Duration

	// MaxRetries is the number of consecutive missed responses that
	// transition the monitor to Failed.
	MaxRetries int
}

// DefaultConfig returns the default monitoring configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   DefaultInterval,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// withDefaults clamps non-positive fields to the defaults.
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// DetectionDelay is the maximum time between a peer dying silently and
// the monitor reporting Failed: Interval*MaxRetries + Timeout.
func (c Config) DetectionDelay() time.Duration {
	c = c.withDefaults()
	return c.Interval*time.Duration(c.MaxRetries) + c.Timeout
}

// State describes the monitor lifecycle.
type State int32

const (
	// StateDisabled means the monitor is not running.
	StateDisabled State = iota
	// StateIdle means the monitor is waiting for the next probe interval.
	StateIdle
	// StateActive means a probe was sent and a response is awaited.
	StateActive
	// StateFailed means retries were exhausted without a response.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// EventKind discriminates monitor events.
type EventKind int

const (
	// EventSent is emitted when a probe is sent.
	EventSent EventKind = iota
	// EventReceived is emitted when a response is recognized.
	EventReceived
	// EventTimeout is emitted when a response was missed and the
	// monitor is retrying.
	EventTimeout
	// EventFailed is emitted when retries are exhausted.
	EventFailed
	// EventRecovered is emitted when a response arrives after failure.
	EventRecovered
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventSent:
		return "SENT"
	case EventReceived:
		return "RECEIVED"
	case EventTimeout:
		return "TIMEOUT"
	case EventFailed:
		return "FAILED"
	case EventRecovered:
		return "RECOVERED"
	default:
		return "UNKNOWN"
	}
}

// Event is a monitor notification.
type Event struct {
	Kind      EventKind
	Sequence  uint32
	Retries   int
	Timestamp time.Time
}

// Stats is a snapshot of monitor counters.
type Stats struct {
	State        State
	Sequence     uint32
	Retries      int
	LastSent     time.Time
	LastReceived time.Time
}

// Monitor watches an established connection for silent peer death by
// sending periodic probes through a caller-supplied send function.
type Monitor struct {
	config Config
	send   func(payload []byte) error

	mu           sync.Mutex
	state        State
	sequence     uint32
	retries      int
	lastSent     time.Time
	lastReceived time.Time
	payload      []byte
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}

	callback   func(Event)
	events     chan Event
	responseCh chan struct{}
}

// New creates a Monitor that sends probes via send. The send function
// is called from the monitoring goroutine; it must be safe to call
// concurrently with the application's own writes.
func New(config Config, send func(payload []byte) error) *Monitor {
	return &Monitor{
		config:     config.withDefaults(),
		send:       send,
		state:      StateDisabled,
		events:     make(chan Event, 16),
		responseCh: make(chan struct{}, 1),
	}
}

// SetCallback registers a callback invoked for every event, in addition
// to the Events channel. The callback runs without the monitor's lock
// held. Must be called before Start.
func (m *Monitor) SetCallback(cb func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// Events returns the channel on which monitor events are published.
// Events are dropped, not blocked on, if the channel is full.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Config returns the effective (clamped) configuration.
func (m *Monitor) Config() Config {
	return m.config
}

// State returns the current monitor state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRunning returns true if the monitoring goroutine is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:        m.state,
		Sequence:     m.sequence,
		Retries:      m.retries,
		LastSent:     m.lastSent,
		LastReceived: m.lastReceived,
	}
}

// Start begins monitoring. The optional payload is sent verbatim as
// every probe; pass nil to use the built-in marker+sequence payload.
// Starting an already-running monitor is a no-op.
func (m *Monitor) Start(payload []byte) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.state = StateIdle
	m.retries = 0
	m.payload = payload
	m.lastSent = time.Time{}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.loop(stopCh, doneCh)
}

// Stop signals the monitoring goroutine and waits (bounded) for it to
// exit. No events are delivered after Stop returns. Stopping a stopped
// monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.state = StateDisabled
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(stopJoinTimeout):
	}
}

// ProcessResponse should be called by the application when it
// recognizes an incoming probe acknowledgement. The payload is not
// interpreted; only its arrival matters. Safe to call from any
// goroutine; a no-op when the monitor is stopped.
func (m *Monitor) ProcessResponse(data []byte) {
	_ = data
	select {
	case m.responseCh <- struct{}{}:
	default:
		// Coalesce with an already-pending response.
	}
}

// loop is the monitoring goroutine.
func (m *Monitor) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(minTickDelay)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-m.responseCh:
			m.emit(m.handleResponse())
		case <-timer.C:
			m.emit(m.handleExpiry())
		}

		timer.Reset(m.nextDelay())
	}
}

// nextDelay computes the time until the next deadline for the current
// state: the probe interval when Idle, the response timeout when
// Active, a full interval when Failed (probing pauses until recovery).
func (m *Monitor) nextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var d time.Duration
	switch m.state {
	case StateActive:
		d = m.config.Timeout - time.Since(m.lastSent)
	case StateFailed:
		d = m.config.Interval
	default:
		d = m.config.Interval - time.Since(m.lastSent)
	}
	if d < minTickDelay {
		d = minTickDelay
	}
	return d
}

// handleExpiry handles a timer deadline: sends the next probe when
// Idle, counts a missed response when Active. Returns events to emit.
func (m *Monitor) handleExpiry() []Event {
	m.mu.Lock()

	var events []Event
	var probe []byte
	now := time.Now()

	switch m.state {
	case StateIdle:
		if now.Sub(m.lastSent) >= m.config.Interval {
			ev, payload := m.armProbeLocked(now)
			events = append(events, ev)
			probe = payload
		}
	case StateActive:
		if now.Sub(m.lastSent) >= m.config.Timeout {
			m.retries++
			events = append(events, Event{
				Kind:      EventTimeout,
				Sequence:  m.sequence,
				Retries:   m.retries,
				Timestamp: now,
			})
			if m.retries >= m.config.MaxRetries {
				m.state = StateFailed
				events = append(events, Event{
					Kind:      EventFailed,
					Sequence:  m.sequence,
					Retries:   m.retries,
					Timestamp: now,
				})
			} else {
				ev, payload := m.armProbeLocked(now)
				events = append(events, ev)
				probe = payload
			}
		}
	}

	m.mu.Unlock()

	// Send outside the lock; a failed send is left to the response timeout.
	if probe != nil {
		_ = m.send(probe)
	}
	return events
}

// handleResponse handles a recognized probe acknowledgement.
func (m *Monitor) handleResponse() []Event {
	m.mu.Lock()

	now := time.Now()
	m.lastReceived = now
	m.retries = 0

	events := []Event{{
		Kind:      EventReceived,
		Sequence:  m.sequence,
		Timestamp: now,
	}}

	switch m.state {
	case StateActive:
		m.state = StateIdle
	case StateFailed:
		m.state = StateIdle
		events = append(events, Event{
			Kind:      EventRecovered,
			Sequence:  m.sequence,
			Timestamp: now,
		})
	}

	m.mu.Unlock()
	return events
}

// armProbeLocked advances the sequence, transitions to Active and
// returns the event plus the payload to send. Caller holds the lock;
// the actual send happens after it is released.
func (m *Monitor) armProbeLocked(now time.Time) (Event, []byte) {
	m.sequence++
	m.lastSent = now
	m.state = StateActive

	payload := m.payload
	if payload == nil {
		payload = EncodeProbe(m.sequence)
	}

	return Event{
		Kind:      EventSent,
		Sequence:  m.sequence,
		Retries:   m.retries,
		Timestamp: now,
	}, payload
}

// emit publishes events on the channel and invokes the callback. Runs
// on the monitoring goroutine with no lock held.
func (m *Monitor) emit(events []Event) {
	if len(events) == 0 {
		return
	}

	m.mu.Lock()
	cb := m.callback
	m.mu.Unlock()

	for _, ev := range events {
		select {
		case m.events <- ev:
		default:
			// Slow consumer, drop rather than stall the monitor.
		}
		if cb != nil {
			cb(ev)
		}
	}
}
