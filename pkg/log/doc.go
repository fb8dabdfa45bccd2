// Package log provides structured protocol event logging for the
// secure socket layer.
//
// Events are plain values describing what happened at a layer (socket,
// TLS, keep-alive) on a connection. Applications receive them through
// the Logger interface and decide what to do: write them to a CBOR
// file (FileLogger), forward them to log/slog (SlogAdapter), fan them
// out (MultiLogger), or drop them (NoopLogger).
//
// Log files are streams of CBOR-encoded events with integer keys for
// compactness; Reader iterates them back, optionally filtered.
package log
