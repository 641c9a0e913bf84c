package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadServiceConfig_Defaults(t *testing.T) {
	cmd := newServeCmd()
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", defaultLogLevel, "")

	cfg, err := loadServiceConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.SSL.Timeouts.Handshake)
	assert.Empty(t, cfg.Listen)
}

func TestLoadServiceConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
log_level: debug
ssl:
  certificate_file: /etc/ssl/from-file.pem
  certs_are_self_signed: true
`)

	cmd := newServeCmd()
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", defaultLogLevel, "")
	require.NoError(t, cmd.Flags().Set("config", path))
	require.NoError(t, cmd.Flags().Set("cert", "/etc/ssl/from-flag.pem"))
	require.NoError(t, cmd.Flags().Set("listen", ":8443"))

	cfg, err := loadServiceConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":8443", cfg.Listen)
	assert.Equal(t, "/etc/ssl/from-flag.pem", cfg.SSL.CertificateFilePath)
	assert.True(t, cfg.SSL.CertsAreSelfSigned)
	// Key defaults to the certificate path when unset.
	assert.Equal(t, "/etc/ssl/from-flag.pem", cfg.SSL.KeyFilePath)
}

func TestLoadServiceConfig_FileValuesKeptWithoutFlags(t *testing.T) {
	path := writeConfig(t, `
target: "example.com:8443"
ssl:
  ca_certificate_file: /etc/ssl/ca.pem
  certificate_file: /etc/ssl/client.pem
  key_file: /etc/ssl/client-key.pem
`)

	cmd := newConnectCmd()
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", defaultLogLevel, "")
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := loadServiceConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "example.com:8443", cfg.Target)
	assert.Equal(t, "/etc/ssl/ca.pem", cfg.SSL.CACertificateFilePath)
	assert.Equal(t, "/etc/ssl/client-key.pem", cfg.SSL.KeyFilePath)
}

func TestLoadServiceConfig_BadFile(t *testing.T) {
	cmd := newServeCmd()
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", defaultLogLevel, "")
	require.NoError(t, cmd.Flags().Set("config", "/nonexistent/config.yaml"))

	_, err := loadServiceConfig(cmd)
	require.Error(t, err)
}
