// Package tlsengine drives TLS sessions for the secure socket layer.
//
// The engine wraps crypto/tls behind two types with asymmetric
// ownership:
//
//   - ListenerContext owns the long-lived crypto material (parsed
//     certificate, CA pool, cipher policy). It is created once per
//     listener, shared read-only by every accepted session, and freed
//     exactly once by its own Close.
//   - Session is the per-connection handshake and record-layer object.
//     Accepted sessions borrow the listener's context and have no
//     operation that could free it; client sessions build their own.
//
// # Session State Machine
//
//	UNINITIALIZED → INITIALIZED → HANDSHAKING → CONNECTED → CLOSED
//
// A handshake failure moves the session directly to CLOSED with no
// partial state retained; the caller owns the underlying connection
// and must close it.
package tlsengine
