package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether the local endpoint is client or server.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Data        *DataEvent        `cbor:"8,keyasint,omitempty"`  // Socket/TLS data path
	Handshake   *HandshakeEvent   `cbor:"9,keyasint,omitempty"`  // TLS negotiation result
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"` // Connection/session state
	Probe       *ProbeEvent       `cbor:"11,keyasint,omitempty"` // Keep-alive probes
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerSocket is the plain TCP socket layer.
	LayerSocket Layer = 0
	// LayerTLS is the TLS session layer.
	LayerTLS Layer = 1
	// LayerKeepalive is the keep-alive monitor.
	LayerKeepalive Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerSocket:
		return "SOCKET"
	case LayerTLS:
		return "TLS"
	case LayerKeepalive:
		return "KEEPALIVE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryData indicates application data movement.
	CategoryData Category = 0
	// CategoryHandshake indicates a TLS negotiation event.
	CategoryHandshake Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryControl indicates a keep-alive control event.
	CategoryControl Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryData:
		return "DATA"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryState:
		return "STATE"
	case CategoryControl:
		return "CONTROL"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint is client or server.
type Role uint8

const (
	// RoleClient indicates the connecting endpoint.
	RoleClient Role = 0
	// RoleServer indicates the listening endpoint.
	RoleServer Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "CLIENT"
	case RoleServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// DataEvent captures application data moving through the data path.
type DataEvent struct {
	// Size is the payload size in bytes.
	Size int `cbor:"1,keyasint"`
}

// HandshakeEvent captures the negotiated TLS parameters.
type HandshakeEvent struct {
	// Version is the negotiated protocol version.
	Version string `cbor:"1,keyasint"`

	// CipherSuite is the negotiated cipher suite name.
	CipherSuite string `cbor:"2,keyasint"`

	// Curve is the negotiated key-exchange group.
	Curve string `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySocket indicates a plain socket state change.
	StateEntitySocket StateEntity = 0
	// StateEntitySession indicates a TLS session state change.
	StateEntitySession StateEntity = 1
	// StateEntityMonitor indicates a keep-alive monitor state change.
	StateEntityMonitor StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySocket:
		return "SOCKET"
	case StateEntitySession:
		return "SESSION"
	case StateEntityMonitor:
		return "MONITOR"
	default:
		return "UNKNOWN"
	}
}

// ProbeEvent captures keep-alive probe activity.
type ProbeEvent struct {
	// Kind of probe event.
	Kind ProbeKind `cbor:"1,keyasint"`

	// Sequence is the probe sequence number.
	Sequence uint32 `cbor:"2,keyasint,omitempty"`

	// Retries is the retry count at the time of the event.
	Retries int `cbor:"3,keyasint,omitempty"`
}

// ProbeKind indicates the kind of keep-alive probe event.
type ProbeKind uint8

const (
	// ProbeSent indicates a probe was sent.
	ProbeSent ProbeKind = 0
	// ProbeReceived indicates a probe response was recognized.
	ProbeReceived ProbeKind = 1
	// ProbeTimeout indicates a missed response (retrying).
	ProbeTimeout ProbeKind = 2
	// ProbeFailed indicates retries were exhausted.
	ProbeFailed ProbeKind = 3
	// ProbeRecovered indicates a response arrived after failure.
	ProbeRecovered ProbeKind = 4
)

// String returns the probe kind name.
func (p ProbeKind) String() string {
	switch p {
	case ProbeSent:
		return "SENT"
	case ProbeReceived:
		return "RECEIVED"
	case ProbeTimeout:
		return "TIMEOUT"
	case ProbeFailed:
		return "FAILED"
	case ProbeRecovered:
		return "RECOVERED"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
