package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/seclink-protocol/seclink-go/pkg/keepalive"
	"github.com/seclink-protocol/seclink-go/pkg/securesock"
)

// Manager errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// redialTimeout bounds each background dial attempt.
const redialTimeout = 30 * time.Second

// State represents the managed connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateRedialing indicates automatic redialing is in progress.
	StateRedialing

	// StateClosed indicates the manager has been shut down.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateRedialing:
		return "REDIALING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Transition is published on the transitions channel for every state
// change.
type Transition struct {
	From State
	To   State

	// Attempt counts redial attempts since the last success; zero
	// outside of redialing.
	Attempt int
}

// DialFunc establishes a new secure connection.
type DialFunc func(ctx context.Context) (*securesock.SecureSocket, error)

// Manager owns one client connection and redials it on loss.
type Manager struct {
	dial    DialFunc
	backoff *Backoff

	mu    sync.Mutex
	state State
	sock  *securesock.SecureSocket

	autoRedial  bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lostCh      chan struct{}
	transitions chan Transition
}

// NewManager creates a manager around dial. Automatic redialing is
// enabled by default; the redial loop itself starts with Run.
func NewManager(dial DialFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dial:        dial,
		backoff:     NewBackoff(),
		state:       StateDisconnected,
		autoRedial:  true,
		ctx:         ctx,
		cancel:      cancel,
		lostCh:      make(chan struct{}, 1),
		transitions: make(chan Transition, 16),
	}
}

// SetBackoff replaces the backoff policy. Call before Run.
func (m *Manager) SetBackoff(b *Backoff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b != nil {
		m.backoff = b
	}
}

// SetAutoRedial enables or disables automatic redialing.
func (m *Manager) SetAutoRedial(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoRedial = enabled
}

// Transitions returns the channel on which state changes are
// published. Transitions are dropped, not blocked on, if the channel
// is full.
func (m *Manager) Transitions() <-chan Transition {
	return m.transitions
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Socket returns the current connection, or nil when disconnected.
func (m *Manager) Socket() *securesock.SecureSocket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sock
}

// IsConnected returns true while a dialed connection is held.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect dials the initial connection synchronously.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.setStateLocked(StateConnecting, 0)
	m.mu.Unlock()

	sock, err := m.dial(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.setStateLocked(StateDisconnected, 0)
		return err
	}
	m.sock = sock
	m.backoff.Reset()
	m.setStateLocked(StateConnected, 0)
	return nil
}

// Run starts the background redial loop. Call once.
func (m *Manager) Run() {
	m.wg.Add(1)
	go m.redialLoop()
}

// ConnectionLost reports that the held connection died. The dead
// socket is closed and, when automatic redialing is enabled, the
// redial loop takes over.
func (m *Manager) ConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	if m.sock != nil {
		m.sock.Close()
		m.sock = nil
	}

	redial := m.autoRedial
	if redial {
		m.setStateLocked(StateRedialing, 0)
	} else {
		m.setStateLocked(StateDisconnected, 0)
	}
	m.mu.Unlock()

	if redial {
		select {
		case m.lostCh <- struct{}{}:
		default:
			// Redial already pending.
		}
	}
}

// BindKeepAlive wires a keep-alive monitor's failure events into the
// manager: when the monitor reports Failed, the connection is treated
// as lost. The watcher exits when the monitor's event stream goes
// quiet after Close. Binding to a closed manager is a no-op; the
// closed check and the waitgroup increment share the lock so a
// concurrent Close cannot start waiting between them.
func (m *Manager) BindKeepAlive(monitor *keepalive.Monitor) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			case ev := <-monitor.Events():
				if ev.Kind == keepalive.EventFailed {
					m.ConnectionLost()
				}
			}
		}
	}()
}

// Close shuts the manager down: the redial loop stops and the held
// connection, if any, is closed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	if m.sock != nil {
		m.sock.Close()
		m.sock = nil
	}
	m.setStateLocked(StateClosed, 0)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// setStateLocked records a state change and publishes the transition.
// Caller holds the lock.
func (m *Manager) setStateLocked(to State, attempt int) {
	from := m.state
	if from == to {
		return
	}
	m.state = to

	select {
	case m.transitions <- Transition{From: from, To: to, Attempt: attempt}:
	default:
		// Slow consumer, drop rather than stall.
	}
}

// redialLoop waits for loss signals and redials with backoff.
func (m *Manager) redialLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.lostCh:
			m.redial()
		}
	}
}

// redial attempts to restore the connection until it succeeds or the
// manager closes.
func (m *Manager) redial() {
	for {
		m.mu.Lock()
		state := m.state
		m.mu.Unlock()
		if state == StateClosed || state == StateConnected {
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(m.ctx, redialTimeout)
		sock, err := m.dial(ctx)
		cancel()

		if err != nil {
			continue
		}

		m.mu.Lock()
		if m.state == StateClosed {
			m.mu.Unlock()
			sock.Close()
			return
		}
		m.sock = sock
		m.backoff.Reset()
		m.setStateLocked(StateConnected, attempt)
		m.mu.Unlock()
		return
	}
}
