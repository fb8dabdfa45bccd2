package securesock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/seclink-protocol/seclink-go/pkg/log"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
	"github.com/seclink-protocol/seclink-go/pkg/tlsengine"
)

// NewClient creates a connecting secure socket. Certificate material
// is checked for existence before any socket is created; a missing
// file is a configuration error and no network resource is touched.
//
// Client and server sockets have distinct construction paths; a
// socket's role never changes after construction.
func NewClient(cfg Config) (*SecureSocket, error) {
	if err := cfg.validate(tlsengine.RoleClient); err != nil {
		return nil, err
	}

	s := &SecureSocket{
		id:     uuid.NewString(),
		role:   tlsengine.RoleClient,
		cfg:    cfg,
		logger: cfg.logger(),
		sock:   socket.NewWithFactory(cfg.factory()),
	}
	return s, nil
}

// Connect establishes the transport connection to address, then drives
// the client side of the TLS handshake. On a transport failure nothing
// is half-open. On a TLS failure the transport connection is torn down
// and the connected flag reset, so a retry on the same handle is
// well-defined.
func (s *SecureSocket) Connect(ctx context.Context, address string) error {
	if s.listenerCtx != nil {
		return fmt.Errorf("%w: connect on a server socket", socket.ErrInvalidParameter)
	}
	if s.IsConnected() {
		return fmt.Errorf("%w: already connected", socket.ErrInvalidParameter)
	}

	if err := s.sock.Connect(ctx, address); err != nil {
		return err
	}
	s.logState(log.StateEntitySocket, "CREATED", "CONNECTED", "connected "+address)

	session, err := tlsengine.NewClientSession(s.sock.NetConn(), s.cfg.TLS)
	if err != nil {
		s.abortHandshake(err)
		return err
	}

	if err := session.Handshake(ctx); err != nil {
		s.logError(log.DirectionOut, err, "connect handshake")
		s.abortHandshake(err)
		return err
	}

	s.session = session
	s.logState(log.StateEntitySession, tlsengine.StateHandshaking.String(),
		tlsengine.StateConnected.String(), "connected "+address)
	if info, ierr := session.SecurityInfo(); ierr == nil {
		s.logHandshake(info)
	}
	return nil
}

// abortHandshake rolls back a failed TLS setup: the transport
// connection is closed and replaced with a fresh unconnected socket so
// the handle stays valid for a retry.
func (s *SecureSocket) abortHandshake(err error) {
	s.sock.MarkDisconnected()
	s.sock.Close()
	s.sock = socket.NewWithFactory(s.cfg.factory())
	s.logState(log.StateEntitySocket, "CONNECTED", "DISCONNECTED", err.Error())
}
