package tlsengine

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/seclink-protocol/seclink-go/pkg/cert"
)

// Engine errors. Each is a distinct reportable kind; callers branch
// with errors.Is.
var (
	// ErrInvalidParameter indicates a nil or malformed argument.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrCertificate indicates certificate or key material failed to load.
	ErrCertificate = errors.New("certificate error")

	// ErrVerify indicates peer certificate verification failed.
	ErrVerify = errors.New("verification error")

	// ErrConnect indicates the handshake failed.
	ErrConnect = errors.New("connect error")

	// ErrNotConnected indicates a record operation before the
	// handshake completed.
	ErrNotConnected = errors.New("session not connected")

	// ErrContextClosed indicates an operation on a closed listener
	// context.
	ErrContextClosed = errors.New("listener context closed")
)

// DefaultCipherSuite is used when the configuration names no ciphers.
const DefaultCipherSuite = "TLS_AES_256_GCM_SHA384"

// Role selects client or server behavior for a session.
type Role int

const (
	// RoleClient initiates the handshake.
	RoleClient Role = iota

	// RoleServer responds to the handshake.
	RoleServer
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

// ParseRole parses a role name ("client" or "server").
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "client":
		return RoleClient, nil
	case "server":
		return RoleServer, nil
	default:
		return 0, fmt.Errorf("%w: role %q", ErrInvalidParameter, s)
	}
}

// Version selects the TLS protocol version.
type Version int

const (
	// VersionTLS13 selects TLS 1.3 (the default).
	VersionTLS13 Version = iota

	// VersionTLS12 selects TLS 1.2.
	VersionTLS12
)

// String returns the version name.
func (v Version) String() string {
	switch v {
	case VersionTLS13:
		return "1.3"
	case VersionTLS12:
		return "1.2"
	default:
		return "UNKNOWN"
	}
}

// ParseVersion parses a version string ("1.2" or "1.3").
func ParseVersion(s string) (Version, error) {
	switch s {
	case "1.3", "":
		return VersionTLS13, nil
	case "1.2":
		return VersionTLS12, nil
	default:
		return 0, fmt.Errorf("%w: TLS version %q", ErrInvalidParameter, s)
	}
}

// tlsVersion maps Version onto the crypto/tls constant.
func (v Version) tlsVersion() uint16 {
	if v == VersionTLS12 {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

// Curve selects the key-exchange group.
type Curve int

const (
	// CurveX25519 selects X25519 (the default).
	CurveX25519 Curve = iota

	// CurveP256 selects NIST P-256.
	CurveP256

	// CurveP384 selects NIST P-384.
	CurveP384

	// CurveP521 selects NIST P-521.
	CurveP521
)

// String returns the curve name.
func (c Curve) String() string {
	switch c {
	case CurveX25519:
		return "X25519"
	case CurveP256:
		return "P-256"
	case CurveP384:
		return "P-384"
	case CurveP521:
		return "P-521"
	default:
		return "UNKNOWN"
	}
}

// ParseCurve parses a curve name.
func ParseCurve(s string) (Curve, error) {
	switch strings.ToUpper(s) {
	case "X25519", "":
		return CurveX25519, nil
	case "P-256", "P256":
		return CurveP256, nil
	case "P-384", "P384":
		return CurveP384, nil
	case "P-521", "P521":
		return CurveP521, nil
	default:
		return 0, fmt.Errorf("%w: curve %q", ErrInvalidParameter, s)
	}
}

// curveID maps Curve onto the crypto/tls identifier.
func (c Curve) curveID() tls.CurveID {
	switch c {
	case CurveP256:
		return tls.CurveP256
	case CurveP384:
		return tls.CurveP384
	case CurveP521:
		return tls.CurveP521
	default:
		return tls.X25519
	}
}

// Config describes one endpoint's TLS settings. It is read once at
// session or listener-context initialization and never mutated by the
// engine afterwards.
type Config struct {
	// Role selects client or server behavior.
	Role Role

	// Version selects the TLS protocol version.
	Version Version

	// Curve selects the key-exchange group (TLS 1.3 negotiation group).
	Curve Curve

	// VerifyPeer enables peer certificate verification.
	VerifyPeer bool

	// VerifyDepth bounds the certificate chain length when VerifyPeer
	// is set. Zero means no explicit bound.
	VerifyDepth int

	// CertPath and KeyPath locate this endpoint's PEM certificate and
	// private key. Both are required.
	CertPath string
	KeyPath  string

	// CAPath locates the PEM CA bundle used to verify the peer.
	// Required when VerifyPeer is set.
	CAPath string

	// CipherList is a colon-separated list of TLS 1.2 cipher suite
	// names. Empty selects the default policy; TLS 1.3 suites are
	// fixed by the protocol (DefaultCipherSuite is preferred).
	CipherList string

	// RequireClientAuth makes a server demand and verify a client
	// certificate. Server-only.
	RequireClientAuth bool

	// ServerName is the SNI value sent by clients and checked during
	// hostname verification.
	ServerName string
}

// Validate checks the configuration for structural problems. It does
// not touch the filesystem; use cert.PathsExist for that.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidParameter)
	}
	if c.CertPath == "" || c.KeyPath == "" {
		return fmt.Errorf("%w: certificate and key paths are required", ErrInvalidParameter)
	}
	if c.VerifyPeer && c.CAPath == "" {
		return fmt.Errorf("%w: CAPath required when VerifyPeer is set", ErrInvalidParameter)
	}
	if c.RequireClientAuth && c.Role != RoleServer {
		return fmt.Errorf("%w: RequireClientAuth is server-only", ErrInvalidParameter)
	}
	if c.VerifyDepth < 0 {
		return fmt.Errorf("%w: negative VerifyDepth", ErrInvalidParameter)
	}
	if _, err := parseCipherList(c.CipherList); err != nil {
		return err
	}
	return nil
}

// parseCipherList resolves colon-separated TLS 1.2 cipher suite names
// to crypto/tls identifiers. An empty list selects the default policy.
func parseCipherList(list string) ([]uint16, error) {
	if list == "" {
		return nil, nil
	}

	known := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		known[suite.Name] = suite.ID
	}
	// TLS 1.3 suites are accepted in the list but crypto/tls selects
	// them automatically; they resolve to no 1.2 identifier.
	tls13 := map[string]bool{
		"TLS_AES_128_GCM_SHA256":       true,
		"TLS_AES_256_GCM_SHA384":       true,
		"TLS_CHACHA20_POLY1305_SHA256": true,
	}

	var ids []uint16
	for _, name := range strings.Split(list, ":") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if tls13[name] {
			continue
		}
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown cipher suite %q", ErrInvalidParameter, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// buildTLSConfig creates the crypto/tls configuration for cfg. The
// result is shared read-only by every session created against it.
func buildTLSConfig(cfg Config) (*tls.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	certificate, err := cert.LoadTLSCertificate(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificate, err)
	}

	ciphers, err := parseCipherList(cfg.CipherList)
	if err != nil {
		return nil, err
	}

	version := cfg.Version.tlsVersion()
	tlsConf := &tls.Config{
		MinVersion:   version,
		MaxVersion:   version,
		Certificates: []tls.Certificate{certificate},
		CipherSuites: ciphers,
		CurvePreferences: []tls.CurveID{
			cfg.Curve.curveID(),
		},
		SessionTicketsDisabled: true,
	}

	if cfg.VerifyPeer {
		pool, err := cert.LoadCAPool(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCertificate, err)
		}
		if cfg.Role == RoleServer {
			tlsConf.ClientCAs = pool
		} else {
			tlsConf.RootCAs = pool
		}
		if cfg.VerifyDepth > 0 {
			// Depth-bounded verification replaces the built-in chain
			// check; hostname verification is skipped because peers
			// are identified by certificate chain, not DNS name.
			tlsConf.InsecureSkipVerify = cfg.Role == RoleClient
			tlsConf.VerifyPeerCertificate = cert.VerifyPeerChain(pool, cfg.VerifyDepth)
		}
	} else if cfg.Role == RoleClient {
		tlsConf.InsecureSkipVerify = true
	}

	if cfg.Role == RoleServer {
		switch {
		case cfg.RequireClientAuth:
			tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
		case cfg.VerifyPeer:
			tlsConf.ClientAuth = tls.VerifyClientCertIfGiven
		default:
			tlsConf.ClientAuth = tls.NoClientCert
		}
	}

	if cfg.ServerName != "" {
		tlsConf.ServerName = cfg.ServerName
	}

	return tlsConf, nil
}
