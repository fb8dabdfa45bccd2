// Command seclink-server is a reference TLS echo server.
//
// It listens on an IPv4 address, accepts TLS 1.3 connections and
// echoes every received payload back to the sender. Keep-alive probes
// from clients are echoed like any other data, so client-side liveness
// monitoring works against it out of the box.
//
// Usage:
//
//	seclink-server [flags]
//
// Flags:
//
//	-config string   Configuration file path (YAML)
//	-listen string   Listen address (default "127.0.0.1:9443")
//	-cert string     Server certificate path (PEM)
//	-key string      Server private key path (PEM)
//	-ca string       CA bundle for client verification (PEM)
//	-verify-peer     Verify client certificates against the CA bundle
//	-require-client-auth  Demand a client certificate
//	-log-file string Write CBOR protocol events to this file
//	-verbose         Print protocol events to the console
//
// Examples:
//
//	# Echo server with a self-signed certificate
//	seclink-server -cert server.crt -key server.key
//
//	# Mutual TLS from a config file
//	seclink-server -config /etc/seclink/server.yaml
package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seclink-protocol/seclink-go/pkg/config"
	"github.com/seclink-protocol/seclink-go/pkg/log"
	"github.com/seclink-protocol/seclink-go/pkg/securesock"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
	"github.com/seclink-protocol/seclink-go/pkg/tlsengine"
)

var (
	configFile        = flag.String("config", "", "Configuration file path (YAML)")
	listenAddr        = flag.String("listen", "127.0.0.1:9443", "Listen address")
	certPath          = flag.String("cert", "", "Server certificate path (PEM)")
	keyPath           = flag.String("key", "", "Server private key path (PEM)")
	caPath            = flag.String("ca", "", "CA bundle for client verification (PEM)")
	verifyPeer        = flag.Bool("verify-peer", false, "Verify client certificates")
	requireClientAuth = flag.Bool("require-client-auth", false, "Demand a client certificate")
	logFile           = flag.String("log-file", "", "Write CBOR protocol events to this file")
	verbose           = flag.Bool("verbose", false, "Print protocol events to the console")
)

func main() {
	flag.Parse()
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	cfg, listen, err := buildConfig()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logger, cleanup, err := buildLogger()
	if err != nil {
		stdlog.Fatalf("Failed to set up logging: %v", err)
	}
	defer cleanup()
	cfg.Logger = logger

	server, err := securesock.NewServer(*cfg)
	if err != nil {
		stdlog.Fatalf("Failed to create server: %v", err)
	}
	defer server.Close()

	if err := server.Bind(listen); err != nil {
		stdlog.Fatalf("Bind failed: %v", err)
	}
	if err := server.Listen(16); err != nil {
		stdlog.Fatalf("Listen failed: %v", err)
	}
	stdlog.Printf("Echo server listening on %s", server.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go acceptLoop(ctx, server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	stdlog.Printf("Received signal: %v, shutting down", sig)
}

// buildConfig assembles the server configuration from the config file
// or flags.
func buildConfig() (*securesock.Config, string, error) {
	if *configFile != "" {
		fileCfg, err := config.Load(*configFile)
		if err != nil {
			return nil, "", err
		}
		tlsCfg, err := fileCfg.TLSConfig()
		if err != nil {
			return nil, "", err
		}
		return &securesock.Config{TLS: tlsCfg}, fileCfg.Listen, nil
	}

	cfg := &securesock.Config{
		TLS: tlsengine.Config{
			Role:              tlsengine.RoleServer,
			CertPath:          *certPath,
			KeyPath:           *keyPath,
			CAPath:            *caPath,
			VerifyPeer:        *verifyPeer,
			RequireClientAuth: *requireClientAuth,
		},
	}
	return cfg, *listenAddr, nil
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

// acceptLoop accepts connections until the listener closes.
func acceptLoop(ctx context.Context, server *securesock.SecureSocket) {
	for {
		conn, err := server.Accept(ctx)
		if err != nil {
			if errors.Is(err, socket.ErrClosed) {
				return
			}
			stdlog.Printf("Accept failed: %v", err)
			continue
		}

		info, _ := conn.SecurityInfo()
		stdlog.Printf("Connection %s from %s (%s, %s)",
			conn.ID(), conn.RemoteAddr(), info.Version, info.CipherSuite)

		go echo(conn)
	}
}

// echo mirrors every payload back to the peer until it disconnects.
func echo(conn *securesock.SecureSocket) {
	defer conn.Close()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Receive(buf)
		if err != nil {
			if errors.Is(err, socket.ErrDisconnected) {
				stdlog.Printf("Connection %s closed by peer", conn.ID())
			} else {
				stdlog.Printf("Connection %s receive error: %v", conn.ID(), err)
			}
			return
		}
		if n == 0 {
			continue
		}
		if _, err := conn.Send(buf[:n]); err != nil {
			stdlog.Printf("Connection %s send error: %v", conn.ID(), err)
			return
		}
	}
}
