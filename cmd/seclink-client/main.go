// Command seclink-client connects to a secure socket server.
//
// In one-shot mode it sends a message, prints the echoed reply and
// exits. In interactive mode it opens a shell for sending data,
// inspecting the negotiated TLS parameters and driving the keep-alive
// monitor by hand.
//
// Usage:
//
//	seclink-client [flags]
//
// Flags:
//
//	-config string    Configuration file path (YAML)
//	-connect string   Server address (default "127.0.0.1:9443")
//	-cert string      Client certificate path (PEM)
//	-key string       Client private key path (PEM)
//	-ca string        CA bundle for server verification (PEM)
//	-server-name string  Expected server name for verification
//	-message string   Send this message, print the reply and exit
//	-interactive      Open an interactive shell
//	-keepalive        Start the keep-alive monitor after connecting
//	-redial           Keep the connection alive, redialing on loss
//	-log-file string  Write CBOR protocol events to this file
//	-verbose          Print protocol events to the console
//
// Examples:
//
//	# One-shot echo round trip
//	seclink-client -ca ca.crt -server-name localhost -message hello
//
//	# Interactive session with keep-alive
//	seclink-client -config client.yaml -interactive -keepalive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seclink-protocol/seclink-go/cmd/seclink-client/interactive"
	"github.com/seclink-protocol/seclink-go/pkg/config"
	"github.com/seclink-protocol/seclink-go/pkg/connection"
	"github.com/seclink-protocol/seclink-go/pkg/keepalive"
	"github.com/seclink-protocol/seclink-go/pkg/log"
	"github.com/seclink-protocol/seclink-go/pkg/securesock"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
	"github.com/seclink-protocol/seclink-go/pkg/tlsengine"
)

var (
	configFile  = flag.String("config", "", "Configuration file path (YAML)")
	connectAddr = flag.String("connect", "127.0.0.1:9443", "Server address")
	certPath    = flag.String("cert", "", "Client certificate path (PEM)")
	keyPath     = flag.String("key", "", "Client private key path (PEM)")
	caPath      = flag.String("ca", "", "CA bundle for server verification (PEM)")
	serverName  = flag.String("server-name", "", "Expected server name for verification")
	message     = flag.String("message", "", "Send this message, print the reply and exit")
	interact    = flag.Bool("interactive", false, "Open an interactive shell")
	useKA       = flag.Bool("keepalive", false, "Start the keep-alive monitor after connecting")
	redial      = flag.Bool("redial", false, "Keep the connection alive, redialing on loss")
	logFile     = flag.String("log-file", "", "Write CBOR protocol events to this file")
	verbose     = flag.Bool("verbose", false, "Print protocol events to the console")
)

const connectTimeout = 10 * time.Second

func main() {
	flag.Parse()
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	cfg, address, kaCfg, kaEnabled, err := buildConfig()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logger, cleanup, err := buildLogger()
	if err != nil {
		stdlog.Fatalf("Failed to set up logging: %v", err)
	}
	defer cleanup()
	cfg.Logger = logger

	if *redial {
		runManaged(cfg, address, kaCfg)
		return
	}

	client, err := securesock.NewClient(*cfg)
	if err != nil {
		stdlog.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err = client.Connect(ctx, address)
	cancel()
	if err != nil {
		stdlog.Fatalf("Connect to %s failed: %v", address, err)
	}

	info, _ := client.SecurityInfo()
	stdlog.Printf("Connected to %s (%s, %s, %s)",
		client.RemoteAddr(), info.Version, info.CipherSuite, info.Curve)

	if kaEnabled {
		monitor, kerr := client.StartKeepAlive(kaCfg, nil)
		if kerr != nil {
			stdlog.Fatalf("Failed to start keep-alive: %v", kerr)
		}
		// The interactive shell routes probe responses itself as part
		// of its recv command; only pump them here otherwise.
		if !*interact {
			go pumpProbes(client, monitor)
		}
	}

	switch {
	case *message != "":
		if err := oneShot(client, *message); err != nil {
			stdlog.Fatalf("Round trip failed: %v", err)
		}
	case *interact:
		shell, serr := interactive.New(client)
		if serr != nil {
			stdlog.Fatalf("Failed to start shell: %v", serr)
		}
		if err := shell.Run(); err != nil {
			stdlog.Fatalf("Interactive session failed: %v", err)
		}
	default:
		stdlog.Printf("No -message or -interactive given, holding the connection open")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
	}
}

// runManaged holds the connection open under the connection manager:
// every loss, including one detected by the keep-alive monitor, is
// followed by a redial with exponential backoff.
func runManaged(cfg *securesock.Config, address string, kaCfg keepalive.Config) {
	manager := connection.NewManager(func(ctx context.Context) (*securesock.SecureSocket, error) {
		c, err := securesock.NewClient(*cfg)
		if err != nil {
			return nil, err
		}
		if err := c.Connect(ctx, address); err != nil {
			c.Close()
			return nil, err
		}
		monitor, err := c.StartKeepAlive(kaCfg, nil)
		if err != nil {
			c.Close()
			return nil, err
		}
		go pumpProbes(c, monitor)
		return c, nil
	})
	manager.Run()
	defer manager.Close()

	go func() {
		for tr := range manager.Transitions() {
			stdlog.Printf("Connection %s -> %s", tr.From, tr.To)
			if tr.To == connection.StateConnected {
				if sock := manager.Socket(); sock != nil {
					if m := sock.KeepAlive(); m != nil {
						manager.BindKeepAlive(m)
					}
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err := manager.Connect(ctx)
	cancel()
	if err != nil {
		stdlog.Fatalf("Connect to %s failed: %v", address, err)
	}
	stdlog.Printf("Managed connection to %s established", address)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stdlog.Printf("Shutting down")
}

// buildConfig assembles the client configuration from the config file
// or flags.
func buildConfig() (*securesock.Config, string, keepalive.Config, bool, error) {
	if *configFile != "" {
		fileCfg, err := config.Load(*configFile)
		if err != nil {
			return nil, "", keepalive.Config{}, false, err
		}
		tlsCfg, err := fileCfg.TLSConfig()
		if err != nil {
			return nil, "", keepalive.Config{}, false, err
		}
		enabled := fileCfg.KeepAlive.Enabled || *useKA
		return &securesock.Config{TLS: tlsCfg}, fileCfg.Connect,
			fileCfg.KeepAliveConfig(), enabled, nil
	}

	cfg := &securesock.Config{
		TLS: tlsengine.Config{
			Role:       tlsengine.RoleClient,
			CertPath:   *certPath,
			KeyPath:    *keyPath,
			CAPath:     *caPath,
			VerifyPeer: *caPath != "",
			ServerName: *serverName,
		},
	}
	return cfg, *connectAddr, keepalive.Config{}, *useKA, nil
}

// buildLogger assembles the protocol event logger from flags.
func buildLogger() (log.Logger, func(), error) {
	var loggers []log.Logger
	cleanup := func() {}

	if *logFile != "" {
		fl, err := log.NewFileLogger(*logFile)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, fl)
		cleanup = func() { fl.Close() }
	}
	if *verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		loggers = append(loggers, log.NewSlogAdapter(slog.New(handler)))
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, cleanup, nil
	case 1:
		return loggers[0], cleanup, nil
	default:
		return log.NewMultiLogger(loggers...), cleanup, nil
	}
}

// oneShot sends a single message and prints the echoed reply.
func oneShot(client *securesock.SecureSocket, msg string) error {
	if _, err := client.Send([]byte(msg)); err != nil {
		return err
	}

	if err := client.SetTimeout(socket.DirectionReceive, 5*time.Second); err != nil {
		return err
	}
	buf := make([]byte, 4096)
	n, err := client.Receive(buf)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", buf[:n])
	return nil
}

// pumpProbes feeds echoed keep-alive probes back into the monitor.
// Against an echo server the probes come back on the ordinary data
// path, so anything that decodes as a probe is a liveness response.
func pumpProbes(client *securesock.SecureSocket, monitor *keepalive.Monitor) {
	buf := make([]byte, 64)
	for monitor.IsRunning() {
		ready, err := client.WaitForActivity(time.Second)
		if err != nil {
			return
		}
		if !ready {
			continue
		}
		n, err := client.Receive(buf)
		if err != nil {
			if !errors.Is(err, socket.ErrTimeout) {
				return
			}
			continue
		}
		if keepalive.IsProbe(buf[:n]) {
			monitor.ProcessResponse(buf[:n])
		}
	}
}
