package cert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrInvalidChain    = errors.New("invalid certificate chain")
	ErrChainTooDeep    = errors.New("certificate chain exceeds verify depth")
)

// VerifyPeerChain returns a verification callback suitable for
// tls.Config.VerifyPeerCertificate. The peer chain must verify against
// roots; a maxDepth > 0 additionally bounds the number of certificates
// between the leaf and a trusted root.
func VerifyPeerChain(roots *x509.CertPool, maxDepth int) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: no peer certificate", ErrInvalidChain)
		}

		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("%w: parse leaf: %v", ErrInvalidChain, err)
		}

		now := time.Now()
		if now.Before(leaf.NotBefore) {
			return ErrCertNotYetValid
		}
		if now.After(leaf.NotAfter) {
			return ErrCertExpired
		}

		intermediates := x509.NewCertPool()
		for _, raw := range rawCerts[1:] {
			ic, err := x509.ParseCertificate(raw)
			if err != nil {
				continue
			}
			intermediates.AddCert(ic)
		}

		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			CurrentTime:   now,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		}
		chains, err := leaf.Verify(opts)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidChain, err)
		}

		if maxDepth > 0 {
			for _, chain := range chains {
				// Chain includes leaf and root; depth counts the links
				// between them.
				if len(chain)-1 <= maxDepth {
					return nil
				}
			}
			return ErrChainTooDeep
		}
		return nil
	}
}

// Info extracts human-readable details from a certificate.
type Info struct {
	CommonName string
	Issuer     string
	NotBefore  time.Time
	NotAfter   time.Time
	IsCA       bool
}

// GetInfo extracts details from a certificate. Returns nil for nil input.
func GetInfo(cert *x509.Certificate) *Info {
	if cert == nil {
		return nil
	}
	return &Info{
		CommonName: cert.Subject.CommonName,
		Issuer:     cert.Issuer.CommonName,
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		IsCA:       cert.IsCA,
	}
}
