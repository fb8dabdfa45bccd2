package securesock

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seclink-protocol/seclink-go/pkg/cert"
	"github.com/seclink-protocol/seclink-go/pkg/keepalive"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
	"github.com/seclink-protocol/seclink-go/pkg/tlsengine"
)

// testPKI holds the file paths of a generated test PKI.
type testPKI struct {
	caPath   string
	certPath string
	keyPath  string
}

// generatePKI writes a self-signed CA plus one CA-signed leaf to disk.
func generatePKI(t *testing.T, cn string) testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn + "-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create CA: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse CA: %v", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create leaf: %v", err)
	}
	leafCert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}

	pki := testPKI{
		caPath:   filepath.Join(dir, "ca.crt"),
		certPath: filepath.Join(dir, "leaf.crt"),
		keyPath:  filepath.Join(dir, "leaf.key"),
	}
	if err := cert.WriteCertFile(pki.caPath, caCert); err != nil {
		t.Fatalf("write CA: %v", err)
	}
	if err := cert.WriteCertFile(pki.certPath, leafCert); err != nil {
		t.Fatalf("write leaf: %v", err)
	}
	if err := cert.WriteKeyFile(pki.keyPath, leafKey); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return pki
}

func serverConfig(pki testPKI) Config {
	return Config{
		TLS: tlsengine.Config{
			Role:     tlsengine.RoleServer,
			CertPath: pki.certPath,
			KeyPath:  pki.keyPath,
		},
	}
}

func clientConfig(pki testPKI) Config {
	return Config{
		TLS: tlsengine.Config{
			Role:       tlsengine.RoleClient,
			VerifyPeer: true,
			CertPath:   pki.certPath,
			KeyPath:    pki.keyPath,
			CAPath:     pki.caPath,
			ServerName: "test.local",
		},
	}
}

// startServer creates a listening secure socket on a loopback port.
func startServer(t *testing.T, cfg Config) *SecureSocket {
	t.Helper()

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := server.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := server.Listen(1); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server
}

// connectedPair returns a handshaken client/server connection pair.
func connectedPair(t *testing.T, pki testPKI) (client, serverConn *SecureSocket) {
	t.Helper()

	server := startServer(t, serverConfig(pki))

	accepted := make(chan *SecureSocket, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := server.Accept(context.Background())
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	client, err := NewClient(clientConfig(pki))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Connect(context.Background(), server.LocalAddr().String()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case conn := <-accepted:
		t.Cleanup(func() { conn.Close(); client.Close() })
		return client, conn
	case err := <-acceptErr:
		t.Fatalf("Accept failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Accept timed out")
	}
	return nil, nil
}

func TestEchoPingPong(t *testing.T) {
	pki := generatePKI(t, "test.local")
	client, serverConn := connectedPair(t, pki)

	if !client.IsConnected() || !serverConn.IsConnected() {
		t.Fatal("both ends should be connected")
	}

	// Client sends "ping"
	n, err := client.Send([]byte("ping"))
	if err != nil || n != 4 {
		t.Fatalf("client Send = %d, %v; want 4, nil", n, err)
	}

	buf := make([]byte, 16)
	n, err = serverConn.Receive(buf)
	if err != nil || n != 4 || string(buf[:n]) != "ping" {
		t.Fatalf("server Receive = %d %q, %v; want 4 \"ping\", nil", n, buf[:n], err)
	}

	// Server echoes "pong"
	n, err = serverConn.Send([]byte("pong"))
	if err != nil || n != 4 {
		t.Fatalf("server Send = %d, %v; want 4, nil", n, err)
	}

	n, err = client.Receive(buf)
	if err != nil || n != 4 || string(buf[:n]) != "pong" {
		t.Fatalf("client Receive = %d %q, %v; want 4 \"pong\", nil", n, buf[:n], err)
	}

	if !client.IsConnected() || !serverConn.IsConnected() {
		t.Error("both ends should still be connected")
	}
}

func TestSecurityInfo(t *testing.T) {
	pki := generatePKI(t, "test.local")
	client, serverConn := connectedPair(t, pki)

	for _, s := range []*SecureSocket{client, serverConn} {
		info, err := s.SecurityInfo()
		if err != nil {
			t.Fatalf("SecurityInfo failed: %v", err)
		}
		if info.Version != "TLS 1.3" {
			t.Errorf("Version = %q, want TLS 1.3", info.Version)
		}
		if info.CipherSuite == "" {
			t.Error("CipherSuite empty")
		}
		if info.Curve != "X25519" {
			t.Errorf("Curve = %q, want X25519", info.Curve)
		}
	}
}

func TestConnectNoListener(t *testing.T) {
	pki := generatePKI(t, "test.local")

	client, err := NewClient(clientConfig(pki))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	// Grab a port with no listener behind it
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	err = client.Connect(context.Background(), addr)
	if err == nil {
		t.Fatal("Connect should fail with no listener")
	}
	if errors.Is(err, socket.ErrWouldBlock) {
		t.Error("refused connection must not be reported as would-block")
	}
	if client.IsConnected() {
		t.Error("connected flag must stay false")
	}
}

func TestMissingCertificateFailsBeforeSocketCreation(t *testing.T) {
	var creations atomic.Int32
	factory := &socket.Factory{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			creations.Add(1)
			return nil, errors.New("denied")
		},
		Listen: func(network, address string) (net.Listener, error) {
			creations.Add(1)
			return nil, errors.New("denied")
		},
	}

	cfg := Config{
		TLS: tlsengine.Config{
			Role:     tlsengine.RoleServer,
			CertPath: "/nonexistent/server.crt",
			KeyPath:  "/nonexistent/server.key",
		},
		Factory: factory,
	}

	_, err := NewServer(cfg)
	if err == nil {
		t.Fatal("NewServer should fail on missing certificate")
	}
	if !errors.Is(err, tlsengine.ErrCertificate) {
		t.Errorf("error = %v, want certificate error", err)
	}
	if creations.Load() != 0 {
		t.Errorf("socket creation was invoked %d times, want 0", creations.Load())
	}

	cfg.TLS.Role = tlsengine.RoleClient
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("NewClient should fail on missing certificate")
	}
	if creations.Load() != 0 {
		t.Errorf("socket creation was invoked %d times, want 0", creations.Load())
	}
}

func TestAcceptFailureClosesConnection(t *testing.T) {
	pki := generatePKI(t, "test.local")
	server := startServer(t, serverConfig(pki))

	result := make(chan error, 1)
	go func() {
		_, err := server.Accept(context.Background())
		result <- err
	}()

	// A plain TCP client that sends garbage instead of a ClientHello
	raw, err := net.Dial("tcp4", server.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()
	raw.Write([]byte("not a tls client hello at all, definitely not"))

	select {
	case err := <-result:
		if err == nil {
			t.Fatal("Accept should fail on a broken handshake")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not return")
	}

	// The accepted descriptor must have been closed: the raw client
	// observes EOF or reset rather than an open connection.
	raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	for {
		if _, err := raw.Read(buf); err != nil {
			return
		}
	}
}

func TestListenerContextSingleFree(t *testing.T) {
	pki := generatePKI(t, "test.local")
	server := startServer(t, serverConfig(pki))

	// Accept several connections against the one shared context
	const numConns = 3
	accepted := make(chan *SecureSocket, numConns)
	go func() {
		for i := 0; i < numConns; i++ {
			conn, err := server.Accept(context.Background())
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	var clients []*SecureSocket
	for i := 0; i < numConns; i++ {
		c, err := NewClient(clientConfig(pki))
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if err := c.Connect(context.Background(), server.LocalAddr().String()); err != nil {
			t.Fatalf("Connect %d failed: %v", i, err)
		}
		clients = append(clients, c)
	}

	// Closing accepted connections must not release the shared context
	for i := 0; i < numConns; i++ {
		select {
		case conn := <-accepted:
			if err := conn.Close(); err != nil {
				t.Errorf("accepted Close failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("accept timed out")
		}
	}
	for _, c := range clients {
		c.Close()
	}

	// Only the listener's own Close releases it, exactly once
	if err := server.Close(); err != nil {
		t.Errorf("listener Close failed: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("second listener Close failed: %v", err)
	}
}

func TestDisconnectFlipsConnectedFlag(t *testing.T) {
	pki := generatePKI(t, "test.local")
	client, serverConn := connectedPair(t, pki)

	serverConn.Close()

	// Client observes the close-notify as a disconnect
	client.SetTimeout(socket.DirectionReceive, 2*time.Second)
	buf := make([]byte, 16)
	_, err := client.Receive(buf)
	if !errors.Is(err, socket.ErrDisconnected) {
		t.Fatalf("Receive after peer close = %v, want disconnected", err)
	}

	if client.IsConnected() {
		t.Error("IsConnected must be false after disconnect")
	}
	if _, err := client.Send([]byte("data")); err == nil {
		t.Error("Send after disconnect should be rejected")
	}
}

func TestDataOperationsBeforeHandshake(t *testing.T) {
	pki := generatePKI(t, "test.local")

	client, err := NewClient(clientConfig(pki))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	buf := make([]byte, 16)
	if _, err := client.Send([]byte("early")); !errors.Is(err, ErrNotReady) {
		t.Errorf("Send before handshake = %v, want ErrNotReady", err)
	}
	if _, err := client.Receive(buf); !errors.Is(err, ErrNotReady) {
		t.Errorf("Receive before handshake = %v, want ErrNotReady", err)
	}

	server := startServer(t, serverConfig(pki))
	if _, err := server.Send([]byte("early")); !errors.Is(err, ErrNotReady) {
		t.Errorf("listener Send = %v, want ErrNotReady", err)
	}
}

func TestVerifyFailureLeavesHandleRetryable(t *testing.T) {
	serverPKI := generatePKI(t, "test.local")
	otherPKI := generatePKI(t, "other.local")

	server := startServer(t, serverConfig(serverPKI))
	go func() {
		// Keep accepting: each failed client handshake fails here too
		for {
			_, err := server.Accept(context.Background())
			if errors.Is(err, socket.ErrClosed) {
				return
			}
		}
	}()

	// Client trusts the wrong CA
	cfg := clientConfig(otherPKI)
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	err = client.Connect(context.Background(), server.LocalAddr().String())
	if !errors.Is(err, tlsengine.ErrVerify) {
		t.Fatalf("Connect = %v, want verify error", err)
	}
	if client.IsConnected() {
		t.Error("connected flag must be reset after TLS failure")
	}

	// The handle stays valid for a retry: a second attempt runs a full
	// new connect, failing the same way rather than with a state error
	err = client.Connect(context.Background(), server.LocalAddr().String())
	if !errors.Is(err, tlsengine.ErrVerify) {
		t.Fatalf("retry Connect = %v, want verify error", err)
	}
}

func TestWaitForActivity(t *testing.T) {
	pki := generatePKI(t, "test.local")
	client, serverConn := connectedPair(t, pki)

	// Nothing pending: times out
	ready, err := client.WaitForActivity(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForActivity failed: %v", err)
	}
	if ready {
		t.Error("no data expected yet")
	}

	// Peer sends: becomes readable, and the data survives intact
	if _, err := serverConn.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ready, err = client.WaitForActivity(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitForActivity failed: %v", err)
	}
	if !ready {
		t.Fatal("data should be ready")
	}

	buf := make([]byte, 16)
	n, err := client.Receive(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Receive = %q, %v; want \"hello\", nil", buf[:n], err)
	}
}

func TestKeepAliveOverSecureConnection(t *testing.T) {
	pki := generatePKI(t, "test.local")
	client, serverConn := connectedPair(t, pki)

	// Server side echoes every probe back
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := serverConn.Receive(buf)
			if err != nil {
				return
			}
			if n > 0 {
				if _, err := serverConn.Send(buf[:n]); err != nil {
					return
				}
			}
		}
	}()

	monitor, err := client.StartKeepAlive(keepalive.Config{
		Interval:   30 * time.Millisecond,
		Timeout:    200 * time.Millisecond,
		MaxRetries: 3,
	}, nil)
	if err != nil {
		t.Fatalf("StartKeepAlive failed: %v", err)
	}

	// Client side pumps echoed probes back into the monitor
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := client.Receive(buf)
			if err != nil {
				return
			}
			if keepalive.IsProbe(buf[:n]) {
				monitor.ProcessResponse(buf[:n])
			}
		}
	}()

	deadline := time.After(2 * time.Second)
	var sent, received bool
	for !(sent && received) {
		select {
		case ev := <-monitor.Events():
			switch ev.Kind {
			case keepalive.EventSent:
				sent = true
			case keepalive.EventReceived:
				received = true
			case keepalive.EventFailed:
				t.Fatal("keep-alive failed despite echo peer")
			}
		case <-deadline:
			t.Fatal("keep-alive events not observed")
		}
	}

	client.Close()
	if monitor.IsRunning() {
		t.Error("monitor should be stopped by Close")
	}
}

func TestRoleMismatchRejected(t *testing.T) {
	pki := generatePKI(t, "test.local")

	if _, err := NewServer(clientConfig(pki)); err == nil {
		t.Error("NewServer with client role should fail")
	}
	if _, err := NewClient(serverConfig(pki)); err == nil {
		t.Error("NewClient with server role should fail")
	}
}
