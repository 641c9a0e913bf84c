package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithCAFile(t *testing.T) {
	cfg := NewWithCAFile("/etc/ssl/ca.pem", "/etc/ssl/cert.pem", "/etc/ssl/key.pem", false)

	assert.Equal(t, "/etc/ssl/ca.pem", cfg.CACertificateFilePath)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.CertificateFilePath)
	assert.Equal(t, "/etc/ssl/key.pem", cfg.KeyFilePath)
	assert.False(t, cfg.CertsAreSelfSigned)
	assert.Equal(t, DefaultCipherSuites, cfg.CipherSuites)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Handshake)
}

func TestNewWithCAFile_KeyDefaultsToCertificate(t *testing.T) {
	cfg := NewWithCAFile("", "/etc/ssl/bundle.pem", "", true)

	assert.Equal(t, "/etc/ssl/bundle.pem", cfg.KeyFilePath,
		"key path should default to the certificate path when unset")
}

func TestNewWithCADirectory(t *testing.T) {
	cfg := NewWithCADirectory("/etc/ssl/certs", "/etc/ssl/cert.pem", "", false)

	assert.Equal(t, "/etc/ssl/certs", cfg.CACertificateDirPath)
	assert.Empty(t, cfg.CACertificateFilePath)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.KeyFilePath)
}

func TestNewWithChainFile(t *testing.T) {
	cfg := NewWithChainFile("/etc/ssl/identity.p12", "secret", true)

	assert.Equal(t, "/etc/ssl/identity.p12", cfg.CertificateChainFilePath)
	assert.Equal(t, "secret", cfg.Password)
	assert.True(t, cfg.CertsAreSelfSigned)
	assert.Empty(t, cfg.CertificateFilePath)
}

func TestEngineName_Default(t *testing.T) {
	cfg := Configuration{}
	assert.Equal(t, DefaultEngine, cfg.EngineName())

	cfg.Engine = "custom"
	assert.Equal(t, "custom", cfg.EngineName())
}

func TestCipherPolicy_Default(t *testing.T) {
	cfg := Configuration{}
	assert.Equal(t, DefaultCipherSuites, cfg.CipherPolicy())

	cfg.CipherSuites = []string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"}
	assert.Equal(t, []string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"}, cfg.CipherPolicy())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	content := `
listen: ":8443"
log_level: debug
ssl:
  certificate_file: /etc/ssl/cert.pem
  key_file: /etc/ssl/key.pem
  certs_are_self_signed: true
  timeouts:
    handshake: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8443", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.SSL.CertificateFilePath)
	assert.True(t, cfg.SSL.CertsAreSelfSigned)
	assert.Equal(t, 10*time.Second, cfg.SSL.Timeouts.Handshake)
}

func TestLoadFile_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listne: \":8443\"\n"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFile_DefaultsTimeouts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	content := `
ssl:
  certificate_file: /etc/ssl/cert.pem
  certs_are_self_signed: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeouts(), cfg.SSL.Timeouts)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
