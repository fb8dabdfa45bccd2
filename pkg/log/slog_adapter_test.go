package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSlogAdapterWritesAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-slog",
		Direction:    DirectionOut,
		Layer:        LayerTLS,
		Category:     CategoryHandshake,
		LocalRole:    RoleClient,
		RemoteAddr:   "127.0.0.1:4433",
		Handshake: &HandshakeEvent{
			Version:     "TLS 1.3",
			CipherSuite: "TLS_AES_256_GCM_SHA384",
			Curve:       "X25519",
		},
	})

	out := buf.String()
	for _, want := range []string{"conn-slog", "TLS", "HANDSHAKE", "CLIENT", "X25519", "127.0.0.1:4433"} {
		if !strings.Contains(out, want) {
			t.Errorf("slog output missing %q: %s", want, out)
		}
	}
}

func TestSlogAdapterErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-err",
		Direction:    DirectionIn,
		Layer:        LayerSocket,
		Category:     CategoryError,
		Error: &ErrorEventData{
			Layer:   LayerSocket,
			Message: "connection reset",
			Context: "receive",
		},
	})

	out := buf.String()
	if !strings.Contains(out, "connection reset") {
		t.Errorf("slog output missing error message: %s", out)
	}
}

func TestMultiLoggerFansOut(t *testing.T) {
	var first, second countingLogger
	multi := NewMultiLogger(&first, &second)

	multi.Log(Event{ConnectionID: "conn-multi"})
	multi.Log(Event{ConnectionID: "conn-multi"})

	if first.count != 2 || second.count != 2 {
		t.Errorf("counts = %d/%d, want 2/2", first.count, second.count)
	}
}

type countingLogger struct {
	count int
}

func (c *countingLogger) Log(Event) { c.count++ }
