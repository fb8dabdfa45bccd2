// Package config loads endpoint configuration from YAML files and
// translates it into the engine and monitor configurations used by the
// secure socket layer. Validation happens at load time, before any
// network I/O.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seclink-protocol/seclink-go/pkg/keepalive"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
	"github.com/seclink-protocol/seclink-go/pkg/tlsengine"
)

// Config is the YAML structure of an endpoint configuration file.
type Config struct {
	// Role is "client" or "server".
	Role string `yaml:"role"`

	// Listen is the IPv4 address a server binds to. Empty binds to any
	// local address on an OS-assigned port.
	Listen string `yaml:"listen,omitempty"`

	// Connect is the IPv4 address a client connects to.
	Connect string `yaml:"connect,omitempty"`

	TLS       TLSSection       `yaml:"tls"`
	KeepAlive KeepAliveSection `yaml:"keepalive,omitempty"`
	Log       LogSection       `yaml:"log,omitempty"`
}

// TLSSection mirrors the TLS engine configuration.
type TLSSection struct {
	Version           string `yaml:"version,omitempty"`
	Curve             string `yaml:"curve,omitempty"`
	Cert              string `yaml:"cert"`
	Key               string `yaml:"key"`
	CA                string `yaml:"ca,omitempty"`
	VerifyPeer        bool   `yaml:"verify_peer,omitempty"`
	VerifyDepth       int    `yaml:"verify_depth,omitempty"`
	CipherList        string `yaml:"cipher_list,omitempty"`
	RequireClientAuth bool   `yaml:"require_client_auth,omitempty"`
	ServerName        string `yaml:"server_name,omitempty"`
}

// KeepAliveSection configures the liveness monitor.
type KeepAliveSection struct {
	Enabled    bool     `yaml:"enabled,omitempty"`
	Interval   Duration `yaml:"interval,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
	MaxRetries int      `yaml:"max_retries,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML as either a Go
// duration string ("30s", "1m30s") or a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler. A bare integer scalar
// must be recognized by tag: the yaml decoder happily coerces it into
// a string, which time.ParseDuration would then reject.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var seconds int64
		if err := value.Decode(&seconds); err != nil {
			return fmt.Errorf("invalid duration value on line %d", value.Line)
		}
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LogSection configures protocol event logging.
type LogSection struct {
	// File receives CBOR-encoded events when set.
	File string `yaml:"file,omitempty"`

	// Console enables human-readable slog output.
	Console bool `yaml:"console,omitempty"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for structural problems. File
// existence is checked later by the secure socket constructors.
func (c *Config) Validate() error {
	role, err := tlsengine.ParseRole(c.Role)
	if err != nil {
		return err
	}

	switch role {
	case tlsengine.RoleServer:
		if c.Connect != "" {
			return fmt.Errorf("%w: connect address on a server config", tlsengine.ErrInvalidParameter)
		}
		if err := socket.ValidateAddress(c.Listen); err != nil {
			return err
		}
	case tlsengine.RoleClient:
		if c.Listen != "" {
			return fmt.Errorf("%w: listen address on a client config", tlsengine.ErrInvalidParameter)
		}
		if c.Connect == "" {
			return fmt.Errorf("%w: client config requires a connect address", tlsengine.ErrInvalidParameter)
		}
		if err := socket.ValidateAddress(c.Connect); err != nil {
			return err
		}
	}

	tlsCfg, err := c.TLSConfig()
	if err != nil {
		return err
	}
	return tlsCfg.Validate()
}

// TLSConfig translates the TLS section into an engine configuration.
func (c *Config) TLSConfig() (tlsengine.Config, error) {
	role, err := tlsengine.ParseRole(c.Role)
	if err != nil {
		return tlsengine.Config{}, err
	}
	version, err := tlsengine.ParseVersion(c.TLS.Version)
	if err != nil {
		return tlsengine.Config{}, err
	}
	curve, err := tlsengine.ParseCurve(c.TLS.Curve)
	if err != nil {
		return tlsengine.Config{}, err
	}

	return tlsengine.Config{
		Role:              role,
		Version:           version,
		Curve:             curve,
		VerifyPeer:        c.TLS.VerifyPeer,
		VerifyDepth:       c.TLS.VerifyDepth,
		CertPath:          c.TLS.Cert,
		KeyPath:           c.TLS.Key,
		CAPath:            c.TLS.CA,
		CipherList:        c.TLS.CipherList,
		RequireClientAuth: c.TLS.RequireClientAuth,
		ServerName:        c.TLS.ServerName,
	}, nil
}

// KeepAliveConfig translates the keep-alive section. Non-positive
// values are clamped to the monitor defaults.
func (c *Config) KeepAliveConfig() keepalive.Config {
	return keepalive.Config{
		Interval:   time.Duration(c.KeepAlive.Interval),
		Timeout:    time.Duration(c.KeepAlive.Timeout),
		MaxRetries: c.KeepAlive.MaxRetries,
	}
}
