package config

import (
	"os"
)

// Validate checks the configuration for completeness and for the existence of
// every referenced file. It is a pure filesystem check with no side effects
// and must pass before any engine resource is allocated.
//
// Rules, in order:
//  1. Self-signed mode without a chain file requires both a certificate file
//     and a key file.
//  2. Verified mode without a chain file requires at least one CA source and
//     both a certificate file and a key file.
//  3. Every path-valued field that is set must exist; the CA directory must
//     actually be a directory.
func (c *Configuration) Validate() error {
	if c.CertificateChainFilePath == "" {
		if c.CertsAreSelfSigned {
			if err := c.requireCertAndKey(); err != nil {
				return err
			}
		} else {
			if c.CACertificateFilePath == "" && c.CACertificateDirPath == "" {
				return NewMissingTrustAnchorError().
					WithSuggestion("Set ca_certificate_file to a PEM bundle of trust anchors").
					WithSuggestion("Or set ca_certificate_dir to a hashed certificate directory").
					WithSuggestion("Or supply the full identity via certificate_chain_file")
			}
			if err := c.requireCertAndKey(); err != nil {
				return err
			}
		}
	}

	// Existence checks run in a fixed order so the first missing path wins.
	checks := []struct {
		field string
		path  string
		dir   bool
	}{
		{"ca_certificate_file", c.CACertificateFilePath, false},
		{"ca_certificate_dir", c.CACertificateDirPath, true},
		{"certificate_file", c.CertificateFilePath, false},
		{"key_file", c.KeyFilePath, false},
		{"certificate_chain_file", c.CertificateChainFilePath, false},
	}
	for _, check := range checks {
		if check.path == "" {
			continue
		}
		info, err := os.Stat(check.path)
		if err != nil {
			return NewPathNotFoundError(check.field, check.path).
				WithSuggestion("Verify the path is correct and the file has not been moved or deleted")
		}
		if check.dir && !info.IsDir() {
			return NewPathNotFoundError(check.field, check.path).
				WithSuggestion("The CA certificate directory must be a directory, not a file")
		}
	}

	return nil
}

func (c *Configuration) requireCertAndKey() error {
	if c.CertificateFilePath == "" {
		return NewMissingCredentialError("certificate_file").
			WithSuggestion("Provide a PEM certificate file for this endpoint's identity")
	}
	if c.KeyFilePath == "" {
		return NewMissingCredentialError("key_file").
			WithSuggestion("Provide the PEM private key matching the certificate").
			WithSuggestion("Leave key_file empty at construction to reuse the certificate file path")
	}
	return nil
}
