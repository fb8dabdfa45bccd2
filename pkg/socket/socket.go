package socket

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Network is the network name used for all sockets. IPv4 only.
const Network = "tcp4"

// Direction selects which deadline SetTimeout applies to.
type Direction int

const (
	// DirectionReceive applies the timeout to receive operations.
	DirectionReceive Direction = iota

	// DirectionSend applies the timeout to send operations.
	DirectionSend

	// DirectionBoth applies the timeout to both directions.
	DirectionBoth
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionReceive:
		return "RECEIVE"
	case DirectionSend:
		return "SEND"
	case DirectionBoth:
		return "BOTH"
	default:
		return "UNKNOWN"
	}
}

// Factory creates the underlying network endpoints. Tests swap it to
// observe or deny socket creation.
type Factory struct {
	// DialContext establishes an outbound connection.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)

	// Listen creates a listening endpoint.
	Listen func(network, address string) (net.Listener, error)
}

// DefaultFactory returns a factory backed by the net package.
func DefaultFactory() *Factory {
	dialer := &net.Dialer{}
	return &Factory{
		DialContext: dialer.DialContext,
		Listen:      net.Listen,
	}
}

// Socket wraps one TCP endpoint: either a connection (after Connect or
// Accept) or a listener (after Bind and Listen).
//
// Send and Receive are serialized per direction by internal mutexes.
// Close does not take those mutexes; closing the underlying connection
// unblocks any pending Send or Receive.
type Socket struct {
	factory *Factory

	readMu  sync.Mutex
	writeMu sync.Mutex

	conn     net.Conn
	listener net.Listener
	bindAddr string

	connected atomic.Bool
	listening atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	// One byte read ahead by WaitForActivity, drained by the next
	// Receive. Guarded by readMu.
	peek   [1]byte
	peeked bool

	// Receive deadline configured through SetTimeout, restored after
	// WaitForActivity overrides it. Guarded by deadlineMu.
	deadlineMu   sync.Mutex
	readDeadline time.Time
}

// New creates an unconnected socket using the default factory.
func New() *Socket {
	return NewWithFactory(DefaultFactory())
}

// NewWithFactory creates an unconnected socket using the given factory.
func NewWithFactory(f *Factory) *Socket {
	if f == nil {
		f = DefaultFactory()
	}
	return &Socket{factory: f}
}

// newAccepted wraps a connection returned by a listener's Accept.
// The new socket has its own mutexes, never shared with the listener.
func newAccepted(conn net.Conn) *Socket {
	s := &Socket{factory: DefaultFactory(), conn: conn}
	s.connected.Store(true)
	return s
}

// ValidateAddress checks that address is an IPv4 dotted-quad host plus
// a 16-bit port. An empty host binds to any local address; an entirely
// empty string is valid for Bind only.
func ValidateAddress(address string) error {
	if address == "" {
		return nil
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidParameter, address, err)
	}
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("%w: address %q is not IPv4", ErrInvalidParameter, address)
		}
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%w: port %q out of range", ErrInvalidParameter, port)
	}
	return nil
}

// Bind records the local address to listen on. An empty address binds
// to any local address on an OS-assigned port.
func (s *Socket) Bind(address string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.connected.Load() || s.listening.Load() {
		return fmt.Errorf("%w: socket already in use", ErrInvalidParameter)
	}
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if address == "" {
		address = ":0"
	}
	s.bindAddr = address
	return nil
}

// Listen starts listening on the bound address. The backlog is
// validated but the effective queue length is managed by the OS.
func (s *Socket) Listen(backlog int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if backlog < 0 {
		return fmt.Errorf("%w: negative backlog", ErrInvalidParameter)
	}
	if s.bindAddr == "" {
		return fmt.Errorf("%w: Listen before Bind", ErrInvalidParameter)
	}
	if s.listening.Load() {
		return fmt.Errorf("%w: already listening", ErrInvalidParameter)
	}

	ln, err := s.factory.Listen(Network, s.bindAddr)
	if err != nil {
		return fmt.Errorf("listen failed: %w", Classify(err))
	}
	s.listener = ln
	s.listening.Store(true)
	return nil
}

// Accept blocks until a connection arrives and returns a new connected
// socket together with the peer address.
func (s *Socket) Accept() (*Socket, net.Addr, error) {
	if !s.listening.Load() {
		return nil, nil, fmt.Errorf("%w: socket is not listening", ErrInvalidParameter)
	}

	conn, err := s.listener.Accept()
	if err != nil {
		return nil, nil, fmt.Errorf("accept failed: %w", Classify(err))
	}
	return newAccepted(conn), conn.RemoteAddr(), nil
}

// Connect establishes an outbound connection to address.
func (s *Socket) Connect(ctx context.Context, address string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.connected.Load() {
		return fmt.Errorf("%w: already connected", ErrInvalidParameter)
	}
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidParameter)
	}
	if err := ValidateAddress(address); err != nil {
		return err
	}

	conn, err := s.factory.DialContext(ctx, Network, address)
	if err != nil {
		return fmt.Errorf("connect failed: %w", Classify(err))
	}

	s.writeMu.Lock()
	s.readMu.Lock()
	if s.conn != nil {
		// A previous connection ended with a peer disconnect; release
		// its descriptor before attaching the new one.
		s.conn.Close()
		s.peeked = false
	}
	s.conn = conn
	s.readMu.Unlock()
	s.writeMu.Unlock()

	s.deadlineMu.Lock()
	s.readDeadline = time.Time{}
	s.deadlineMu.Unlock()

	s.connected.Store(true)
	return nil
}

// Send writes buf to the connection and returns the number of bytes
// written.
func (s *Socket) Send(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", ErrInvalidParameter)
	}
	if !s.connected.Load() {
		return 0, ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.conn.Write(buf)
	if err != nil {
		return n, Classify(err)
	}
	return n, nil
}

// Receive reads into buf and returns the number of bytes read.
// A peer-initiated close is reported as ErrDisconnected, and the
// connected flag is cleared so subsequent sends are rejected.
func (s *Socket) Receive(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", ErrInvalidParameter)
	}
	if !s.connected.Load() {
		return 0, ErrNotConnected
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	// Drain the byte read ahead by WaitForActivity first.
	offset := 0
	if s.peeked {
		buf[0] = s.peek[0]
		s.peeked = false
		offset = 1
		if len(buf) == 1 {
			return 1, nil
		}
	}

	n, err := s.conn.Read(buf[offset:])
	if err != nil {
		err = Classify(err)
		if errorIsDisconnect(err) {
			if offset > 0 {
				// Deliver the peeked byte; the close is observed and
				// reported by the next Receive.
				return offset, nil
			}
			s.connected.Store(false)
			return 0, err
		}
		return offset + n, err
	}
	return offset + n, nil
}

// errorIsDisconnect reports whether err carries the disconnect sentinel.
func errorIsDisconnect(err error) bool {
	return err != nil && (err == ErrDisconnected || isSentinel(err, ErrDisconnected))
}

func isSentinel(err, sentinel error) bool {
	c, ok := err.(*classified)
	return ok && c.sentinel == sentinel
}

// SetTimeout configures a deadline for the given direction. A zero or
// negative duration clears the deadline.
func (s *Socket) SetTimeout(dir Direction, timeout time.Duration) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	switch dir {
	case DirectionReceive:
		s.setReadDeadline(deadline)
		return s.conn.SetReadDeadline(deadline)
	case DirectionSend:
		return s.conn.SetWriteDeadline(deadline)
	case DirectionBoth:
		s.setReadDeadline(deadline)
		return s.conn.SetDeadline(deadline)
	default:
		return fmt.Errorf("%w: direction %d", ErrInvalidParameter, dir)
	}
}

// setReadDeadline remembers the caller's receive deadline so that
// WaitForActivity can put it back after its own override.
func (s *Socket) setReadDeadline(deadline time.Time) {
	s.deadlineMu.Lock()
	s.readDeadline = deadline
	s.deadlineMu.Unlock()
}

// WaitForActivity waits up to timeout for the connection to become
// readable. It returns true when data (or a peer close) is ready and
// false when the timeout expired. Connected sockets only.
//
// WaitForActivity temporarily overrides the receive deadline and
// restores the one configured through SetTimeout on return.
func (s *Socket) WaitForActivity(timeout time.Duration) (bool, error) {
	if !s.connected.Load() {
		return false, ErrNotConnected
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.peeked {
		return true, nil
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, Classify(err)
	}
	defer func() {
		s.deadlineMu.Lock()
		restore := s.readDeadline
		s.deadlineMu.Unlock()
		s.conn.SetReadDeadline(restore)
	}()

	n, err := s.conn.Read(s.peek[:])
	if n == 1 {
		s.peeked = true
		return true, nil
	}
	if err != nil {
		err = Classify(err)
		if isSentinel(err, ErrTimeout) {
			return false, nil
		}
		if errorIsDisconnect(err) {
			// Peer close counts as readable; Receive reports it.
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Close tears down the socket. It is safe to call multiple times; only
// the first call releases the underlying endpoint.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.connected.Store(false)
		s.listening.Store(false)
		if s.conn != nil {
			err = s.conn.Close()
		}
		if s.listener != nil {
			if lerr := s.listener.Close(); err == nil {
				err = lerr
			}
		}
	})
	return err
}

// IsConnected reports whether the socket holds an established
// connection.
func (s *Socket) IsConnected() bool {
	return s.connected.Load()
}

// IsListening reports whether the socket is a listener.
func (s *Socket) IsListening() bool {
	return s.listening.Load()
}

// LocalAddr returns the local address, or nil before bind/connect.
func (s *Socket) LocalAddr() net.Addr {
	if s.conn != nil {
		return s.conn.LocalAddr()
	}
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// RemoteAddr returns the peer address, or nil when not connected.
func (s *Socket) RemoteAddr() net.Addr {
	if s.conn != nil {
		return s.conn.RemoteAddr()
	}
	return nil
}

// MarkDisconnected clears the connected flag. The secure socket layer
// uses this when the TLS session observes a peer close or a failed
// handshake, so that retry semantics stay well-defined.
func (s *Socket) MarkDisconnected() {
	s.connected.Store(false)
}

// NetConn exposes the underlying connection for layering TLS on top.
// It returns nil when the socket is not connected.
//
// The returned connection drains the byte read ahead by
// WaitForActivity before touching the wire, so record framing stays
// intact for readers that bypass Receive.
func (s *Socket) NetConn() net.Conn {
	if !s.connected.Load() {
		return nil
	}
	return &stashConn{s: s}
}

// stashConn routes reads through the WaitForActivity stash.
type stashConn struct {
	s *Socket
}

func (c *stashConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.s.readMu.Lock()
	if c.s.peeked {
		p[0] = c.s.peek[0]
		c.s.peeked = false
		c.s.readMu.Unlock()
		return 1, nil
	}
	c.s.readMu.Unlock()
	return c.s.conn.Read(p)
}

func (c *stashConn) Write(p []byte) (int, error)      { return c.s.conn.Write(p) }
func (c *stashConn) Close() error                     { return c.s.conn.Close() }
func (c *stashConn) LocalAddr() net.Addr              { return c.s.conn.LocalAddr() }
func (c *stashConn) RemoteAddr() net.Addr             { return c.s.conn.RemoteAddr() }
func (c *stashConn) SetDeadline(t time.Time) error    { return c.s.conn.SetDeadline(t) }
func (c *stashConn) SetReadDeadline(t time.Time) error {
	return c.s.conn.SetReadDeadline(t)
}
func (c *stashConn) SetWriteDeadline(t time.Time) error {
	return c.s.conn.SetWriteDeadline(t)
}
