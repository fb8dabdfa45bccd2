package securesock

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/seclink-protocol/seclink-go/pkg/keepalive"
	"github.com/seclink-protocol/seclink-go/pkg/log"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
	"github.com/seclink-protocol/seclink-go/pkg/tlsengine"
)

// SecureSocket composes exactly one plain socket with at most one TLS
// session. Listener sockets additionally own the shared listener
// context that accepted sessions borrow.
type SecureSocket struct {
	id     string
	role   tlsengine.Role
	cfg    Config
	logger log.Logger

	sock        *socket.Socket
	session     *tlsengine.Session
	listenerCtx *tlsengine.ListenerContext

	closeOnce sync.Once

	monitorMu sync.Mutex
	monitor   *keepalive.Monitor
}

// ID returns the socket's connection identifier (UUID).
func (s *SecureSocket) ID() string {
	return s.id
}

// Role returns the socket's role.
func (s *SecureSocket) Role() tlsengine.Role {
	return s.role
}

// IsConnected reports whether the socket is ready for application
// data: both the transport and the TLS session must be connected.
func (s *SecureSocket) IsConnected() bool {
	return s.sock.IsConnected() &&
		s.session != nil &&
		s.session.State() == tlsengine.StateConnected
}

// LocalAddr returns the local address, or nil before bind/connect.
func (s *SecureSocket) LocalAddr() net.Addr {
	return s.sock.LocalAddr()
}

// RemoteAddr returns the peer address, or nil when not connected.
func (s *SecureSocket) RemoteAddr() net.Addr {
	return s.sock.RemoteAddr()
}

// Send encrypts and writes buf through the TLS session. The socket
// must be fully connected.
func (s *SecureSocket) Send(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", socket.ErrInvalidParameter)
	}
	if !s.IsConnected() {
		return 0, ErrNotReady
	}

	n, err := s.session.Send(buf)
	if err != nil {
		s.logError(log.DirectionOut, err, "send")
		if isDisconnect(err) {
			s.sock.MarkDisconnected()
		}
		return n, err
	}

	s.logData(log.DirectionOut, n)
	return n, nil
}

// Receive reads and decrypts into buf. A peer close is reported as
// socket.ErrDisconnected and flips the connected flag so a subsequent
// Send is rejected. A zero-byte result with nil error means no data
// yet, not disconnect.
func (s *SecureSocket) Receive(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", socket.ErrInvalidParameter)
	}
	if !s.IsConnected() {
		return 0, ErrNotReady
	}

	n, err := s.session.Receive(buf)
	if err != nil {
		if isDisconnect(err) {
			s.sock.MarkDisconnected()
			s.logState(log.StateEntitySocket, "CONNECTED", "DISCONNECTED", "peer closed")
		} else {
			s.logError(log.DirectionIn, err, "receive")
		}
		return n, err
	}

	s.logData(log.DirectionIn, n)
	return n, nil
}

// SetTimeout configures a deadline for the given direction on the
// underlying transport. Zero or negative clears it.
func (s *SecureSocket) SetTimeout(dir socket.Direction, timeout time.Duration) error {
	return s.sock.SetTimeout(dir, timeout)
}

// WaitForActivity waits up to timeout for incoming data. It returns
// true when the connection became readable and false on timeout.
func (s *SecureSocket) WaitForActivity(timeout time.Duration) (bool, error) {
	return s.sock.WaitForActivity(timeout)
}

// SecurityInfo returns the negotiated TLS parameters. Valid only while
// the session is connected.
func (s *SecureSocket) SecurityInfo() (tlsengine.SecurityInfo, error) {
	if s.session == nil {
		return tlsengine.SecurityInfo{}, tlsengine.ErrNotConnected
	}
	return s.session.SecurityInfo()
}

// StartKeepAlive attaches a liveness monitor to an established
// connection. Probes travel through the encrypted data path. The
// optional payload overrides the built-in probe format; pass nil for
// the default. The returned monitor is stopped automatically on Close.
func (s *SecureSocket) StartKeepAlive(cfg keepalive.Config, payload []byte) (*keepalive.Monitor, error) {
	if !s.IsConnected() {
		return nil, ErrNotReady
	}

	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()

	if s.monitor != nil && s.monitor.IsRunning() {
		return nil, fmt.Errorf("%w: keep-alive already running", socket.ErrInvalidParameter)
	}

	m := keepalive.New(cfg, func(p []byte) error {
		_, err := s.Send(p)
		return err
	})
	m.SetCallback(func(ev keepalive.Event) {
		s.logProbe(ev)
	})

	s.monitor = m
	m.Start(payload)
	s.logState(log.StateEntityMonitor, keepalive.StateDisabled.String(),
		keepalive.StateIdle.String(), "keep-alive started")
	return m, nil
}

// KeepAlive returns the attached monitor, or nil.
func (s *SecureSocket) KeepAlive() *keepalive.Monitor {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	return s.monitor
}

// Close tears the socket down in fixed order: keep-alive monitor, TLS
// close-notify and session teardown, the shared listener context (only
// when this socket owns one), then the plain socket. Safe to call
// multiple times.
func (s *SecureSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.monitorMu.Lock()
		if s.monitor != nil {
			s.monitor.Stop()
		}
		s.monitorMu.Unlock()

		if s.session != nil {
			err = s.session.Close()
		}
		if s.listenerCtx != nil {
			if cerr := s.listenerCtx.Close(); err == nil {
				err = cerr
			}
		}
		if serr := s.sock.Close(); err == nil {
			err = serr
		}
		s.logState(log.StateEntitySocket, "CONNECTED", "CLOSED", "")
	})
	return err
}

// isDisconnect reports whether err carries the disconnect sentinel.
func isDisconnect(err error) bool {
	return errors.Is(err, socket.ErrDisconnected)
}

// logging helpers

func (s *SecureSocket) logRole() log.Role {
	if s.role == tlsengine.RoleServer {
		return log.RoleServer
	}
	return log.RoleClient
}

func (s *SecureSocket) remoteAddrString() string {
	if addr := s.sock.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *SecureSocket) logData(dir log.Direction, size int) {
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Direction:    dir,
		Layer:        log.LayerTLS,
		Category:     log.CategoryData,
		LocalRole:    s.logRole(),
		RemoteAddr:   s.remoteAddrString(),
		Data:         &log.DataEvent{Size: size},
	})
}

func (s *SecureSocket) logHandshake(info tlsengine.SecurityInfo) {
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Direction:    log.DirectionOut,
		Layer:        log.LayerTLS,
		Category:     log.CategoryHandshake,
		LocalRole:    s.logRole(),
		RemoteAddr:   s.remoteAddrString(),
		Handshake: &log.HandshakeEvent{
			Version:     info.Version,
			CipherSuite: info.CipherSuite,
			Curve:       info.Curve,
		},
	})
}

func (s *SecureSocket) logState(entity log.StateEntity, oldState, newState, reason string) {
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Direction:    log.DirectionOut,
		Layer:        stateLayer(entity),
		Category:     log.CategoryState,
		LocalRole:    s.logRole(),
		RemoteAddr:   s.remoteAddrString(),
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func stateLayer(entity log.StateEntity) log.Layer {
	switch entity {
	case log.StateEntitySession:
		return log.LayerTLS
	case log.StateEntityMonitor:
		return log.LayerKeepalive
	default:
		return log.LayerSocket
	}
}

func (s *SecureSocket) logError(dir log.Direction, err error, context string) {
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Direction:    dir,
		Layer:        log.LayerTLS,
		Category:     log.CategoryError,
		LocalRole:    s.logRole(),
		RemoteAddr:   s.remoteAddrString(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTLS,
			Message: err.Error(),
			Context: context,
		},
	})
}

func (s *SecureSocket) logProbe(ev keepalive.Event) {
	kind := log.ProbeSent
	dir := log.DirectionOut
	switch ev.Kind {
	case keepalive.EventReceived:
		kind = log.ProbeReceived
		dir = log.DirectionIn
	case keepalive.EventTimeout:
		kind = log.ProbeTimeout
		dir = log.DirectionIn
	case keepalive.EventFailed:
		kind = log.ProbeFailed
		dir = log.DirectionIn
	case keepalive.EventRecovered:
		kind = log.ProbeRecovered
		dir = log.DirectionIn
	}
	s.logger.Log(log.Event{
		Timestamp:    ev.Timestamp,
		ConnectionID: s.id,
		Direction:    dir,
		Layer:        log.LayerKeepalive,
		Category:     log.CategoryControl,
		LocalRole:    s.logRole(),
		RemoteAddr:   s.remoteAddrString(),
		Probe: &log.ProbeEvent{
			Kind:     kind,
			Sequence: ev.Sequence,
			Retries:  ev.Retries,
		},
	})
}
