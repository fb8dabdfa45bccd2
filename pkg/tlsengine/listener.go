package tlsengine

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// ListenerContext is the shared crypto context of a TLS listener: the
// parsed certificate, CA pool, and cipher policy loaded once and
// reused read-only by every accepted session.
//
// Ownership is asymmetric by construction: only the ListenerContext
// can free the shared material (Close, exactly once); accepted
// Sessions hold a borrow with no free operation.
type ListenerContext struct {
	cfg       Config
	tlsConf   *tls.Config
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewListenerContext loads certificate material and builds the shared
// configuration for a server. Certificate and key loading happens here
// exactly once; accepted sessions never reload them.
func NewListenerContext(cfg Config) (*ListenerContext, error) {
	if cfg.Role != RoleServer {
		return nil, fmt.Errorf("%w: listener context requires server role", ErrInvalidParameter)
	}

	tlsConf, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &ListenerContext{cfg: cfg, tlsConf: tlsConf}, nil
}

// Accept creates a fresh handshake session for an accepted connection,
// bound to this context's shared configuration. The caller drives the
// handshake and owns the connection.
func (lc *ListenerContext) Accept(conn net.Conn) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil connection", ErrInvalidParameter)
	}
	if lc.closed.Load() {
		return nil, ErrContextClosed
	}
	return newServerSession(conn, lc.tlsConf), nil
}

// Certificate returns the listener's leaf certificate.
func (lc *ListenerContext) Certificate() *x509.Certificate {
	if len(lc.tlsConf.Certificates) == 0 {
		return nil
	}
	return lc.tlsConf.Certificates[0].Leaf
}

// Closed reports whether the context has been released.
func (lc *ListenerContext) Closed() bool {
	return lc.closed.Load()
}

// Close releases the shared crypto context. Safe to call multiple
// times; only the first call takes effect. Accepted sessions that are
// still active keep their borrowed configuration alive via the runtime,
// but no new session can be created afterwards.
func (lc *ListenerContext) Close() error {
	lc.closeOnce.Do(func() {
		lc.closed.Store(true)
	})
	return nil
}
