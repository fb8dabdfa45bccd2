package securesock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/seclink-protocol/seclink-go/pkg/log"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
	"github.com/seclink-protocol/seclink-go/pkg/tlsengine"
)

// NewServer creates a listening secure socket. Certificate material is
// checked for existence and loaded into the shared listener context
// before any socket is created; a missing file is a configuration
// error and no network resource is touched.
func NewServer(cfg Config) (*SecureSocket, error) {
	if err := cfg.validate(tlsengine.RoleServer); err != nil {
		return nil, err
	}

	// Loads certificate, key and CA pool exactly once. Every accepted
	// session borrows this context read-only.
	lc, err := tlsengine.NewListenerContext(cfg.TLS)
	if err != nil {
		return nil, err
	}

	s := &SecureSocket{
		id:          uuid.NewString(),
		role:        tlsengine.RoleServer,
		cfg:         cfg,
		logger:      cfg.logger(),
		sock:        socket.NewWithFactory(cfg.factory()),
		listenerCtx: lc,
	}
	return s, nil
}

// Bind records the local IPv4 address to listen on. An empty address
// binds to any local address on an OS-assigned port.
func (s *SecureSocket) Bind(address string) error {
	if s.listenerCtx == nil {
		return fmt.Errorf("%w: bind on a client socket", socket.ErrInvalidParameter)
	}
	return s.sock.Bind(address)
}

// Listen starts listening on the bound address.
func (s *SecureSocket) Listen(backlog int) error {
	if s.listenerCtx == nil {
		return fmt.Errorf("%w: listen on a client socket", socket.ErrInvalidParameter)
	}
	if err := s.sock.Listen(backlog); err != nil {
		return err
	}
	s.logState(log.StateEntitySocket, "BOUND", "LISTENING", "")
	return nil
}

// Accept blocks until a connection arrives, then drives the server
// side of the TLS handshake against the shared listener context. On
// any TLS failure the freshly accepted transport connection is closed
// before returning, so no descriptor leaks.
func (s *SecureSocket) Accept(ctx context.Context) (*SecureSocket, error) {
	if s.listenerCtx == nil {
		return nil, fmt.Errorf("%w: accept on a client socket", socket.ErrInvalidParameter)
	}

	plain, peer, err := s.sock.Accept()
	if err != nil {
		return nil, err
	}

	session, err := s.listenerCtx.Accept(plain.NetConn())
	if err != nil {
		plain.Close()
		return nil, err
	}

	conn := &SecureSocket{
		id:      uuid.NewString(),
		role:    tlsengine.RoleServer,
		cfg:     s.cfg,
		logger:  s.logger,
		sock:    plain,
		session: session,
	}

	if err := session.Handshake(ctx); err != nil {
		conn.logError(log.DirectionIn, err, "accept handshake")
		plain.Close()
		return nil, err
	}

	conn.logState(log.StateEntitySession, tlsengine.StateHandshaking.String(),
		tlsengine.StateConnected.String(), "accepted "+peer.String())
	if info, ierr := session.SecurityInfo(); ierr == nil {
		conn.logHandshake(info)
	}
	return conn, nil
}

// AcceptTimeout is a convenience wrapper bounding the handshake phase
// of Accept. The blocking wait for an incoming connection itself is
// unbounded; close the listener to interrupt it.
func (s *SecureSocket) AcceptTimeout(timeout time.Duration) (*SecureSocket, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Accept(ctx)
}
