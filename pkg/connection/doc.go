// Package connection manages the lifecycle of a secure client
// connection: dialing, loss detection and automatic redialing with
// exponential backoff.
//
// A Manager wraps a dial function that produces a connected
// SecureSocket. When the application (or a bound keep-alive monitor)
// reports the connection lost, the manager redials in the background,
// doubling the delay between attempts up to a cap, with jitter to
// avoid thundering herds. State transitions are published on a typed
// channel.
package connection
