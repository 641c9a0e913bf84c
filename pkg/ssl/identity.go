package ssl

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/preecet/BlueSSLService/pkg/config"
)

// Identity is a loaded local credential: the private key, the leaf
// certificate and any intermediates that should accompany it on the wire.
type Identity struct {
	// Certificate is the credential in the form the engine consumes.
	Certificate tls.Certificate

	// Leaf is the parsed end-entity certificate.
	Leaf *x509.Certificate

	// Chain holds the accompanying certificates from the credential source,
	// leaf excluded, in the order they were found.
	Chain []*x509.Certificate

	// Source describes where the credential came from, for logging.
	Source string
}

// LoadIdentity reads the local credential named by the configuration.
// A certificate chain file takes precedence over a separate PEM pair; chain
// files may be PEM bundles or PKCS#12 archives, distinguished by content.
func LoadIdentity(cfg *config.Configuration) (*Identity, error) {
	if cfg.CertificateChainFilePath != "" {
		return loadChainIdentity(cfg.CertificateChainFilePath, cfg.Password)
	}
	if cfg.CertificateFilePath != "" {
		return loadPEMIdentity(cfg.CertificateFilePath, cfg.KeyFilePath)
	}
	return nil, nil
}

func loadPEMIdentity(certPath, keyPath string) (*Identity, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, NewErrorWithCause(KindImportFailed, categorizeKeyPairError(err), err)
	}
	identity := &Identity{
		Certificate: cert,
		Source:      certPath,
	}
	if err := identity.parseChain(); err != nil {
		return nil, err
	}
	return identity, nil
}

func loadChainIdentity(path, password string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErrorWithCause(KindImportFailed, "read certificate chain file", err)
	}

	if bytes.Contains(data, []byte("-----BEGIN")) {
		return loadPEMBundle(path, data)
	}
	return loadPKCS12(path, data, password)
}

// loadPEMBundle handles a single PEM file carrying the private key, the
// leaf and optionally intermediates.
func loadPEMBundle(path string, data []byte) (*Identity, error) {
	cert, err := tls.X509KeyPair(data, data)
	if err != nil {
		return nil, NewErrorWithCause(KindImportFailed, categorizeKeyPairError(err), err)
	}
	identity := &Identity{
		Certificate: cert,
		Source:      path,
	}
	if err := identity.parseChain(); err != nil {
		return nil, err
	}
	return identity, nil
}

func loadPKCS12(path string, data []byte, password string) (*Identity, error) {
	if password == "" {
		return nil, NewError(KindMissingPassword,
			fmt.Sprintf("PKCS#12 archive %s requires a password", path))
	}

	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, NewErrorWithCause(KindImportFailed, "incorrect PKCS#12 password", err)
		}
		return nil, NewErrorWithCause(KindImportFailed, "decode PKCS#12 archive", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, c := range chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}

	return &Identity{
		Certificate: cert,
		Leaf:        leaf,
		Chain:       chain,
		Source:      path,
	}, nil
}

// parseChain fills Leaf and Chain from the raw certificate blocks.
func (id *Identity) parseChain() error {
	if len(id.Certificate.Certificate) == 0 {
		return NewError(KindImportFailed, "credential contains no certificates")
	}
	leaf, err := x509.ParseCertificate(id.Certificate.Certificate[0])
	if err != nil {
		return NewErrorWithCause(KindImportFailed, "parse leaf certificate", err)
	}
	id.Leaf = leaf
	id.Certificate.Leaf = leaf

	id.Chain = id.Chain[:0]
	for i, raw := range id.Certificate.Certificate[1:] {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return NewErrorWithCause(KindImportFailed,
				fmt.Sprintf("parse chain certificate %d", i+1), err)
		}
		id.Chain = append(id.Chain, cert)
	}
	return nil
}

// categorizeKeyPairError turns the standard library's key pair errors into
// actionable descriptions.
func categorizeKeyPairError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such file"):
		return "credential file not found"
	case strings.Contains(msg, "private key does not match"):
		return "private key does not match certificate"
	case strings.Contains(msg, "failed to find any PEM data"):
		return "file contains no PEM data"
	case strings.Contains(msg, "failed to parse private key"):
		return "private key could not be parsed"
	case strings.Contains(msg, "permission denied"):
		return "credential file is not readable"
	default:
		return "load certificate and key"
	}
}
