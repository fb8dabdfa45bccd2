package cert

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Loading errors.
var (
	ErrCertNotFound = errors.New("certificate file not found")
	ErrKeyNotFound  = errors.New("key file not found")
	ErrCANotFound   = errors.New("CA file not found")
)

// PathsExist verifies that the certificate and key files exist and are
// regular files. It is a fast pre-check run before any socket is
// created; it does not parse the files.
func PathsExist(certPath, keyPath string) error {
	if err := checkFile(certPath); err != nil {
		return fmt.Errorf("%w: %s", ErrCertNotFound, certPath)
	}
	if err := checkFile(keyPath); err != nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyPath)
	}
	return nil
}

// CAExists verifies that the CA bundle file exists. An empty path is
// valid (no CA configured).
func CAExists(caPath string) error {
	if caPath == "" {
		return nil
	}
	if err := checkFile(caPath); err != nil {
		return fmt.Errorf("%w: %s", ErrCANotFound, caPath)
	}
	return nil
}

func checkFile(path string) error {
	if path == "" {
		return os.ErrNotExist
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.ErrInvalid
	}
	return nil
}

// LoadTLSCertificate loads a certificate/key pair from PEM files.
func LoadTLSCertificate(certPath, keyPath string) (tls.Certificate, error) {
	c, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load certificate: %w", err)
	}
	// Parse the leaf so callers can inspect subject/validity without
	// re-parsing.
	if c.Leaf == nil && len(c.Certificate) > 0 {
		leaf, err := x509.ParseCertificate(c.Certificate[0])
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("parse leaf: %w", err)
		}
		c.Leaf = leaf
	}
	return c, nil
}

// LoadCAPool loads a pool of trusted CA certificates from a PEM file.
// The file may contain multiple concatenated certificates.
func LoadCAPool(caPath string) (*x509.CertPool, error) {
	if err := checkFile(caPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCANotFound, caPath)
	}
	data, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidPEM, caPath)
	}
	return pool, nil
}
