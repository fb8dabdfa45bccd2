// Package keepalive implements application-level liveness monitoring
// for established connections.
//
// A Monitor periodically sends a probe payload through a caller-supplied
// send function and watches for acknowledgements reported via
// ProcessResponse. Missed acknowledgements increment a retry counter;
// when the counter reaches the configured maximum the monitor enters
// the Failed state and reports it. A later acknowledgement recovers the
// monitor back to Idle.
//
// State machine:
//
//	Disabled -> Idle -> Active -> (Idle | Failed)
//	Failed -> Idle (on recovery)
//	any -> Disabled (on Stop)
//
// Observability is event-based: the monitor publishes typed Event
// values on a channel (see Events) and optionally invokes a callback.
// The callback is always invoked without the monitor's lock held, so it
// may safely call back into the monitor's API. No events are delivered
// after Stop returns.
//
// The default probe payload is a compact binary marker plus sequence
// number (see EncodeProbe/DecodeProbe); applications may supply an
// opaque payload of their own, which the monitor sends verbatim and
// never interprets.
package keepalive
