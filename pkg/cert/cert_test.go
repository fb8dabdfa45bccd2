package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCA creates a self-signed CA certificate and key.
func newCA(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return ca, key
}

// newLeaf creates a certificate signed by the given CA.
func newLeaf(t *testing.T, cn string, ca *x509.Certificate, caKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca, &key.PublicKey, caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return leaf, key
}

func TestPEMRoundtrip(t *testing.T) {
	ca, caKey := newCA(t, "roundtrip-ca")

	certPEM := EncodeCertPEM(ca)
	decoded, err := DecodeCertPEM(certPEM)
	require.NoError(t, err)
	assert.Equal(t, ca.Raw, decoded.Raw)

	keyPEM, err := EncodeKeyPEM(caKey)
	require.NoError(t, err)
	decodedKey, err := DecodeKeyPEM(keyPEM)
	require.NoError(t, err)
	assert.True(t, caKey.Equal(decodedKey))
}

func TestDecodeInvalidPEM(t *testing.T) {
	_, err := DecodeCertPEM([]byte("not pem"))
	assert.ErrorIs(t, err, ErrInvalidPEM)

	_, err = DecodeKeyPEM([]byte("not pem"))
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

func TestPathsExist(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	require.NoError(t, os.WriteFile(certPath, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(keyPath, []byte("x"), 0600))

	assert.NoError(t, PathsExist(certPath, keyPath))
	assert.ErrorIs(t, PathsExist(filepath.Join(dir, "missing.crt"), keyPath), ErrCertNotFound)
	assert.ErrorIs(t, PathsExist(certPath, filepath.Join(dir, "missing.key")), ErrKeyNotFound)
	assert.ErrorIs(t, PathsExist("", keyPath), ErrCertNotFound)
	assert.ErrorIs(t, PathsExist(certPath, dir), ErrKeyNotFound)
}

func TestLoadTLSCertificate(t *testing.T) {
	dir := t.TempDir()
	ca, caKey := newCA(t, "load-ca")
	leaf, leafKey := newLeaf(t, "load-leaf", ca, caKey)

	certPath := filepath.Join(dir, "leaf.crt")
	keyPath := filepath.Join(dir, "leaf.key")
	require.NoError(t, WriteCertFile(certPath, leaf))
	require.NoError(t, WriteKeyFile(keyPath, leafKey))

	loaded, err := LoadTLSCertificate(certPath, keyPath)
	require.NoError(t, err)
	require.NotNil(t, loaded.Leaf)
	assert.Equal(t, "load-leaf", loaded.Leaf.Subject.CommonName)
}

func TestLoadTLSCertificateMismatchedKey(t *testing.T) {
	dir := t.TempDir()
	ca, caKey := newCA(t, "mismatch-ca")
	leaf, _ := newLeaf(t, "mismatch-leaf", ca, caKey)
	_, otherKey := newLeaf(t, "other", ca, caKey)

	certPath := filepath.Join(dir, "leaf.crt")
	keyPath := filepath.Join(dir, "other.key")
	require.NoError(t, WriteCertFile(certPath, leaf))
	require.NoError(t, WriteKeyFile(keyPath, otherKey))

	_, err := LoadTLSCertificate(certPath, keyPath)
	assert.Error(t, err)
}

func TestLoadCAPool(t *testing.T) {
	dir := t.TempDir()
	ca, _ := newCA(t, "pool-ca")

	caPath := filepath.Join(dir, "ca.crt")
	require.NoError(t, WriteCertFile(caPath, ca))

	pool, err := LoadCAPool(caPath)
	require.NoError(t, err)
	assert.NotNil(t, pool)

	_, err = LoadCAPool(filepath.Join(dir, "missing.crt"))
	assert.ErrorIs(t, err, ErrCANotFound)

	junkPath := filepath.Join(dir, "junk.crt")
	require.NoError(t, os.WriteFile(junkPath, []byte("junk"), 0644))
	_, err = LoadCAPool(junkPath)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

func TestVerifyPeerChain(t *testing.T) {
	ca, caKey := newCA(t, "verify-ca")
	leaf, _ := newLeaf(t, "verify-leaf", ca, caKey)

	roots := x509.NewCertPool()
	roots.AddCert(ca)

	verify := VerifyPeerChain(roots, 0)
	assert.NoError(t, verify([][]byte{leaf.Raw}, nil))

	// Unknown CA.
	otherCA, _ := newCA(t, "other-ca")
	otherRoots := x509.NewCertPool()
	otherRoots.AddCert(otherCA)
	err := VerifyPeerChain(otherRoots, 0)([][]byte{leaf.Raw}, nil)
	assert.ErrorIs(t, err, ErrInvalidChain)

	// Empty chain.
	err = verify(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidChain)
}

func TestVerifyPeerChainDepth(t *testing.T) {
	ca, caKey := newCA(t, "depth-ca")
	leaf, _ := newLeaf(t, "depth-leaf", ca, caKey)

	roots := x509.NewCertPool()
	roots.AddCert(ca)

	// leaf -> root is one link; depth 1 passes.
	assert.NoError(t, VerifyPeerChain(roots, 1)([][]byte{leaf.Raw}, nil))
}

func TestVerifyPeerChainExpired(t *testing.T) {
	ca, caKey := newCA(t, "expired-ca")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "expired-leaf"},
		NotBefore:    time.Now().Add(-48 * time.Hour),
		NotAfter:     time.Now().Add(-24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca, &key.PublicKey, caKey)
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(ca)
	err = VerifyPeerChain(roots, 0)([][]byte{der}, nil)
	assert.ErrorIs(t, err, ErrCertExpired)
}

func TestGetInfo(t *testing.T) {
	ca, _ := newCA(t, "info-ca")

	info := GetInfo(ca)
	require.NotNil(t, info)
	assert.Equal(t, "info-ca", info.CommonName)
	assert.True(t, info.IsCA)

	assert.Nil(t, GetInfo(nil))
}
