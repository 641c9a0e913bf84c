// Package config defines the immutable session configuration consumed by the
// SSL service: identity material, trust material, cipher policy, and the
// timeouts applied to handshake and I/O loops.
package config

import (
	"time"
)

// DefaultEngine is the engine backend used when a configuration does not name
// one explicitly.
const DefaultEngine = "stdtls"

// DefaultCipherSuites is the secure default cipher policy, ordered by
// preference (strongest first). AEAD suites with forward secrecy only.
var DefaultCipherSuites = []string{
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
}

// Timeouts bounds the internal retry loops. A zero value means the
// corresponding operation is unbounded and relies on the descriptor
// eventually becoming ready or erroring.
type Timeouts struct {
	Handshake time.Duration `yaml:"handshake,omitempty" json:"handshake,omitempty"`
	Read      time.Duration `yaml:"read,omitempty" json:"read,omitempty"`
	Write     time.Duration `yaml:"write,omitempty" json:"write,omitempty"`
}

// DefaultTimeouts returns the recommended deadline settings. Read and write
// stay unbounded so long-lived idle sessions are not torn down; the handshake
// is bounded because a stalled peer during negotiation is never recoverable.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Handshake: 30 * time.Second,
	}
}

// Configuration describes the identity material, trust material, and cipher
// policy for one endpoint. It is constructed once via one of the named
// constructors, is read-only thereafter, and may be shared by reference
// across any number of sessions.
//
// Exactly one identity-sourcing mode applies per session: either a chain file
// (PEM chain or PKCS#12 bundle) or a discrete certificate/key pair. When a
// chain file is set it supersedes the discrete pair requirement.
type Configuration struct {
	// CACertificateFilePath points at a PEM bundle of trust anchors.
	CACertificateFilePath string `yaml:"ca_certificate_file,omitempty" json:"ca_certificate_file,omitempty"`

	// CACertificateDirPath points at a directory of trust anchors, one
	// certificate per file, hashed-entry layout.
	CACertificateDirPath string `yaml:"ca_certificate_dir,omitempty" json:"ca_certificate_dir,omitempty"`

	// CertificateFilePath is the PEM certificate presented to peers.
	CertificateFilePath string `yaml:"certificate_file,omitempty" json:"certificate_file,omitempty"`

	// KeyFilePath is the PEM private key. Defaults to CertificateFilePath
	// when left empty at construction (cert and key bundled in one file).
	KeyFilePath string `yaml:"key_file,omitempty" json:"key_file,omitempty"`

	// CertificateChainFilePath is the alternate identity source: a PEM chain
	// or a password-protected PKCS#12 bundle.
	CertificateChainFilePath string `yaml:"certificate_chain_file,omitempty" json:"certificate_chain_file,omitempty"`

	// CertsAreSelfSigned relaxes peer verification: the endpoint
	// authenticates solely by presenting the configured identity.
	CertsAreSelfSigned bool `yaml:"certs_are_self_signed" json:"certs_are_self_signed"`

	// CipherSuites is the ordered cipher policy. Empty means
	// DefaultCipherSuites.
	CipherSuites []string `yaml:"cipher_suites,omitempty" json:"cipher_suites,omitempty"`

	// Password decrypts a PKCS#12 chain file. Required for .p12/.pfx
	// bundles, ignored otherwise.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// Engine selects the TLS engine backend. Empty means DefaultEngine.
	Engine string `yaml:"engine,omitempty" json:"engine,omitempty"`

	// Timeouts bounds the handshake and I/O retry loops.
	Timeouts Timeouts `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`
}

// NewWithCAFile constructs a configuration whose trust anchors come from a
// single PEM bundle file.
func NewWithCAFile(caFile, certFile, keyFile string, selfSigned bool) Configuration {
	return Configuration{
		CACertificateFilePath: caFile,
		CertificateFilePath:   certFile,
		KeyFilePath:           defaultKeyPath(keyFile, certFile),
		CertsAreSelfSigned:    selfSigned,
		CipherSuites:          DefaultCipherSuites,
		Timeouts:              DefaultTimeouts(),
	}
}

// NewWithCADirectory constructs a configuration whose trust anchors come from
// a hashed certificate directory.
func NewWithCADirectory(caDir, certFile, keyFile string, selfSigned bool) Configuration {
	return Configuration{
		CACertificateDirPath: caDir,
		CertificateFilePath:  certFile,
		KeyFilePath:          defaultKeyPath(keyFile, certFile),
		CertsAreSelfSigned:   selfSigned,
		CipherSuites:         DefaultCipherSuites,
		Timeouts:             DefaultTimeouts(),
	}
}

// NewWithChainFile constructs a configuration whose identity comes from a
// chain file: either a PEM chain or a PKCS#12 bundle. For PKCS#12 bundles the
// password is mandatory.
func NewWithChainFile(chainFile, password string, selfSigned bool) Configuration {
	return Configuration{
		CertificateChainFilePath: chainFile,
		Password:                 password,
		CertsAreSelfSigned:       selfSigned,
		CipherSuites:             DefaultCipherSuites,
		Timeouts:                 DefaultTimeouts(),
	}
}

// EngineName returns the configured engine backend, defaulted.
func (c *Configuration) EngineName() string {
	if c.Engine == "" {
		return DefaultEngine
	}
	return c.Engine
}

// CipherPolicy returns the configured cipher suite names, defaulted.
func (c *Configuration) CipherPolicy() []string {
	if len(c.CipherSuites) == 0 {
		return DefaultCipherSuites
	}
	return c.CipherSuites
}

// HasIdentity reports whether any identity source is configured.
func (c *Configuration) HasIdentity() bool {
	return c.CertificateChainFilePath != "" || c.CertificateFilePath != ""
}

func defaultKeyPath(keyFile, certFile string) string {
	if keyFile == "" {
		return certFile
	}
	return keyFile
}
