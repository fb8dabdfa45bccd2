package tlsengine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/seclink-protocol/seclink-go/pkg/socket"
)

// SessionState tracks a session through its lifecycle.
type SessionState int32

const (
	// StateUninitialized is the zero state before Init.
	StateUninitialized SessionState = iota

	// StateInitialized means the context is created and material loaded.
	StateInitialized

	// StateHandshaking means the handshake is in progress.
	StateHandshaking

	// StateConnected means the handshake succeeded.
	StateConnected

	// StateClosed means the session has been shut down.
	StateClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is one TLS handshake plus record-layer context bound to a
// single connection. Sessions created by a ListenerContext borrow the
// listener's shared configuration and cannot free it.
type Session struct {
	role    Role
	tlsConn *tls.Conn
	state   atomic.Int32
}

// NewClientSession creates a client session on top of an established
// connection. The session owns its own crypto configuration, built
// fresh from cfg; there is no role mutation after construction.
func NewClientSession(conn net.Conn, cfg Config) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil connection", ErrInvalidParameter)
	}
	if cfg.Role != RoleClient {
		return nil, fmt.Errorf("%w: client session requires client role", ErrInvalidParameter)
	}

	tlsConf, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{role: RoleClient, tlsConn: tls.Client(conn, tlsConf)}
	s.state.Store(int32(StateInitialized))
	return s, nil
}

// newServerSession wraps an accepted connection with the listener's
// shared configuration. Only ListenerContext calls this.
func newServerSession(conn net.Conn, shared *tls.Config) *Session {
	s := &Session{role: RoleServer, tlsConn: tls.Server(conn, shared)}
	s.state.Store(int32(StateInitialized))
	return s
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Role returns the session's role.
func (s *Session) Role() Role {
	return s.role
}

// Handshake drives the TLS handshake to completion. On failure the
// session moves to CLOSED with no partial state retained; the caller
// still owns (and must close) the underlying connection.
func (s *Session) Handshake(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateInitialized), int32(StateHandshaking)) {
		return fmt.Errorf("%w: handshake in state %s", ErrInvalidParameter, s.State())
	}

	if err := s.tlsConn.HandshakeContext(ctx); err != nil {
		s.state.Store(int32(StateClosed))
		return classifyHandshakeError(err)
	}

	s.state.Store(int32(StateConnected))
	return nil
}

// classifyHandshakeError separates verification failures from other
// handshake failures.
func classifyHandshakeError(err error) error {
	var certVerify *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalidCert x509.CertificateInvalidError
	switch {
	case errors.As(err, &certVerify),
		errors.As(err, &unknownAuthority),
		errors.As(err, &hostname),
		errors.As(err, &invalidCert):
		return fmt.Errorf("%w: %v", ErrVerify, err)
	default:
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
}

// Send encrypts and writes buf. The session must be connected.
func (s *Session) Send(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", ErrInvalidParameter)
	}
	if s.State() != StateConnected {
		return 0, ErrNotConnected
	}

	n, err := s.tlsConn.Write(buf)
	if err != nil {
		return n, socket.Classify(err)
	}
	return n, nil
}

// Receive reads and decrypts into buf. A peer close-notify is reported
// as socket.ErrDisconnected and moves the session to CLOSED; timeouts
// and would-block conditions are benign and retryable.
func (s *Session) Receive(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", ErrInvalidParameter)
	}
	if s.State() != StateConnected {
		return 0, ErrNotConnected
	}

	n, err := s.tlsConn.Read(buf)
	if err != nil {
		err = socket.Classify(err)
		if errors.Is(err, socket.ErrDisconnected) {
			s.state.Store(int32(StateClosed))
		}
		return n, err
	}
	return n, nil
}

// Close sends the TLS close-notify and moves the session to CLOSED.
// It releases only per-session state: the underlying connection stays
// open (the socket layer owns it) and a shared listener configuration
// is untouched.
func (s *Session) Close() error {
	prev := SessionState(s.state.Swap(int32(StateClosed)))
	if prev != StateConnected {
		return nil
	}
	if err := s.tlsConn.CloseWrite(); err != nil {
		return socket.Classify(err)
	}
	return nil
}

// SecurityInfo reports the negotiated parameters of a session.
type SecurityInfo struct {
	// Version is the negotiated protocol version, e.g. "TLS 1.3".
	Version string

	// CipherSuite is the negotiated cipher suite name.
	CipherSuite string

	// Curve is the negotiated key-exchange group name.
	Curve string

	// PeerCertificates holds the peer's presented chain, leaf first.
	PeerCertificates []*x509.Certificate
}

// SecurityInfo returns the negotiated parameters. Valid only once the
// session is connected.
func (s *Session) SecurityInfo() (SecurityInfo, error) {
	if s.State() != StateConnected {
		return SecurityInfo{}, ErrNotConnected
	}

	state := s.tlsConn.ConnectionState()
	return SecurityInfo{
		Version:          tls.VersionName(state.Version),
		CipherSuite:      tls.CipherSuiteName(state.CipherSuite),
		Curve:            curveName(state.CurveID),
		PeerCertificates: state.PeerCertificates,
	}, nil
}

// curveName maps a negotiated crypto/tls curve onto its display name.
func curveName(id tls.CurveID) string {
	switch id {
	case tls.CurveP256:
		return "P-256"
	case tls.CurveP384:
		return "P-384"
	case tls.CurveP521:
		return "P-521"
	case tls.X25519:
		return "X25519"
	default:
		return id.String()
	}
}
