// Package socket provides the plain TCP socket layer used below the
// TLS engine.
//
// A Socket wraps exactly one TCP endpoint (connection or listener) and
// is IPv4 only. All operations are blocking; WaitForActivity provides a
// bounded wait so callers can poll without blocking indefinitely.
//
// # Error Taxonomy
//
// Callers branch on sentinel errors, never on raw error strings:
//   - ErrInvalidParameter: nil/empty buffer, malformed address
//   - ErrNotConnected: data operation before connect/accept
//   - ErrWouldBlock: no data currently available, retry later
//   - ErrTimeout: a configured deadline expired
//   - ErrDisconnected: the peer closed the connection
//
// Everything else is a wrapped transport error. Classify maps errors
// from the net package onto this taxonomy.
package socket
