package socket

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Socket errors.
var (
	// ErrInvalidParameter indicates a nil or malformed argument.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotConnected indicates a data operation on an unconnected socket.
	ErrNotConnected = errors.New("not connected")

	// ErrWouldBlock indicates no data/readiness is currently available.
	// Retry later; the socket remains usable.
	ErrWouldBlock = errors.New("operation would block")

	// ErrTimeout indicates a configured deadline expired.
	// Retry later; the socket remains usable.
	ErrTimeout = errors.New("operation timed out")

	// ErrDisconnected indicates the peer closed the connection.
	ErrDisconnected = errors.New("peer disconnected")

	// ErrClosed indicates the socket has been closed locally.
	ErrClosed = errors.New("socket closed")
)

// Classify maps an error from the net package onto the socket error
// taxonomy. The returned error wraps the original so callers can still
// inspect it, but always matches exactly one sentinel via errors.Is.
// A nil input returns nil; errors already in the taxonomy pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrWouldBlock),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrDisconnected),
		errors.Is(err, ErrClosed):
		return err
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return wrap(ErrDisconnected, err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return wrap(ErrDisconnected, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return wrap(ErrTimeout, err)
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return wrap(ErrWouldBlock, err)
	}
	if errors.Is(err, net.ErrClosed) {
		return wrap(ErrClosed, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrap(ErrTimeout, err)
	}

	// General transport error (connection refused, route errors, ...).
	return err
}

// classified carries a taxonomy sentinel alongside the original error.
type classified struct {
	sentinel error
	cause    error
}

func wrap(sentinel, cause error) error {
	return &classified{sentinel: sentinel, cause: cause}
}

func (c *classified) Error() string {
	return c.sentinel.Error() + ": " + c.cause.Error()
}

func (c *classified) Is(target error) bool {
	return target == c.sentinel
}

func (c *classified) Unwrap() error {
	return c.cause
}
