// Package securesock composes a plain TCP socket with a TLS session
// behind one handle that mirrors the plain socket surface: bind,
// listen, accept, connect, send, receive, close.
//
// Construction is role-specific. NewServer builds a listening socket
// whose certificate material is loaded once into a shared listener
// context; every accepted connection reuses that context read-only and
// only the listener releases it, exactly once, on Close. NewClient
// builds a connecting socket that owns its session outright.
//
// Both constructors verify that the configured certificate files exist
// before any socket is created, so configuration mistakes surface as
// immediate errors instead of failed handshakes.
//
// A SecureSocket is ready for application data only when both the
// transport and the TLS session are connected; Send and Receive reject
// otherwise. Close tears down in fixed order: TLS close-notify first,
// then session teardown, then the plain socket.
//
// Keep-alive monitoring can be attached to an established connection
// with StartKeepAlive; probe traffic travels through the encrypted
// data path like any other payload.
package securesock
