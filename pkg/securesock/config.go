package securesock

import (
	"errors"
	"fmt"

	"github.com/seclink-protocol/seclink-go/pkg/cert"
	"github.com/seclink-protocol/seclink-go/pkg/log"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
	"github.com/seclink-protocol/seclink-go/pkg/tlsengine"
)

// ErrNotReady indicates a data operation before both the transport and
// the TLS session are connected.
var ErrNotReady = errors.New("secure socket not ready")

// Config configures a SecureSocket.
type Config struct {
	// TLS is the engine configuration. Role must match the constructor
	// used (NewServer or NewClient).
	TLS tlsengine.Config

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger

	// Factory creates the underlying network endpoints. Nil selects the
	// default net-backed factory. Tests swap it to observe or deny
	// socket creation.
	Factory *socket.Factory
}

// validate runs the fail-fast checks shared by both constructors:
// structural TLS configuration problems and certificate file existence.
// No socket is created before this passes.
func (c *Config) validate(role tlsengine.Role) error {
	if c.TLS.Role != role {
		return fmt.Errorf("%w: config role %s does not match constructor",
			tlsengine.ErrInvalidParameter, c.TLS.Role)
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if err := cert.PathsExist(c.TLS.CertPath, c.TLS.KeyPath); err != nil {
		return fmt.Errorf("%w: %v", tlsengine.ErrCertificate, err)
	}
	if err := cert.CAExists(c.TLS.CAPath); err != nil {
		return fmt.Errorf("%w: %v", tlsengine.ErrCertificate, err)
	}
	return nil
}

// logger returns the configured logger, or a no-op one.
func (c *Config) logger() log.Logger {
	if c.Logger == nil {
		return log.NoopLogger{}
	}
	return c.Logger
}

// factory returns the configured factory, or the default one.
func (c *Config) factory() *socket.Factory {
	if c.Factory == nil {
		return socket.DefaultFactory()
	}
	return c.Factory
}
