package ssl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preecet/BlueSSLService/pkg/config"
)

func TestLoadIdentity_PEMPair(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	leaf := ca.issueLeaf(t, "server.test")

	certPath := writeTestFile(t, dir, "cert.pem", leaf.certPEM)
	keyPath := writeTestFile(t, dir, "key.pem", leaf.keyPEM)

	cfg := &config.Configuration{
		CertificateFilePath: certPath,
		KeyFilePath:         keyPath,
	}

	identity, err := LoadIdentity(cfg)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "server.test", identity.Leaf.Subject.CommonName)
	assert.Empty(t, identity.Chain)
	assert.Equal(t, certPath, identity.Source)
}

func TestLoadIdentity_PEMPairMismatchedKey(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	leaf := ca.issueLeaf(t, "server.test")
	other := ca.issueLeaf(t, "other.test")

	certPath := writeTestFile(t, dir, "cert.pem", leaf.certPEM)
	keyPath := writeTestFile(t, dir, "key.pem", other.keyPEM)

	cfg := &config.Configuration{
		CertificateFilePath: certPath,
		KeyFilePath:         keyPath,
	}

	_, err := LoadIdentity(cfg)
	require.Error(t, err)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindImportFailed, sslErr.Kind)
}

func TestLoadIdentity_PEMBundle(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	leaf := ca.issueLeaf(t, "bundle.test")

	// Key, leaf and issuer concatenated in one file.
	bundle := append(append(append([]byte{}, leaf.keyPEM...), leaf.certPEM...), ca.pem...)
	chainPath := writeTestFile(t, dir, "bundle.pem", bundle)

	cfg := &config.Configuration{
		CertificateChainFilePath: chainPath,
	}

	identity, err := LoadIdentity(cfg)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "bundle.test", identity.Leaf.Subject.CommonName)
	require.Len(t, identity.Chain, 1)
	assert.Equal(t, "Test Root CA", identity.Chain[0].Subject.CommonName)
}

func TestLoadIdentity_PKCS12(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	leaf := ca.issueLeaf(t, "p12.test")

	data := encodePKCS12(t, leaf, ca.chain(), "secret")
	p12Path := writeTestFile(t, dir, "identity.p12", data)

	cfg := &config.Configuration{
		CertificateChainFilePath: p12Path,
		Password:                 "secret",
	}

	identity, err := LoadIdentity(cfg)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "p12.test", identity.Leaf.Subject.CommonName)
	require.Len(t, identity.Chain, 1)
	assert.Equal(t, "Test Root CA", identity.Chain[0].Subject.CommonName)
	// The wire form carries leaf first, then the chain.
	require.Len(t, identity.Certificate.Certificate, 2)
}

func TestLoadIdentity_PKCS12MissingPassword(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	leaf := ca.issueLeaf(t, "p12.test")

	data := encodePKCS12(t, leaf, nil, "secret")
	p12Path := writeTestFile(t, dir, "identity.p12", data)

	cfg := &config.Configuration{
		CertificateChainFilePath: p12Path,
	}

	_, err := LoadIdentity(cfg)
	require.Error(t, err)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindMissingPassword, sslErr.Kind)
}

func TestLoadIdentity_PKCS12WrongPassword(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	leaf := ca.issueLeaf(t, "p12.test")

	data := encodePKCS12(t, leaf, nil, "secret")
	p12Path := writeTestFile(t, dir, "identity.p12", data)

	cfg := &config.Configuration{
		CertificateChainFilePath: p12Path,
		Password:                 "wrong",
	}

	_, err := LoadIdentity(cfg)
	require.Error(t, err)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindImportFailed, sslErr.Kind)
	assert.Contains(t, sslErr.Reason, "password")
}

func TestLoadIdentity_NoCredentialConfigured(t *testing.T) {
	identity, err := LoadIdentity(&config.Configuration{})
	assert.NoError(t, err)
	assert.Nil(t, identity)
}

func TestLoadIdentity_MissingFile(t *testing.T) {
	cfg := &config.Configuration{
		CertificateChainFilePath: "/nonexistent/identity.p12",
	}

	_, err := LoadIdentity(cfg)
	require.Error(t, err)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindImportFailed, sslErr.Kind)
}

func TestIdentityManager_LoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	leaf := ca.issueLeaf(t, "managed.test")

	cfg := &config.Configuration{
		CertificateFilePath: writeTestFile(t, dir, "cert.pem", leaf.certPEM),
		KeyFilePath:         writeTestFile(t, dir, "key.pem", leaf.keyPEM),
	}

	manager := NewIdentityManager(cfg, testLogger())
	t.Cleanup(func() { manager.Close() })

	identity, err := manager.Load()
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Same(t, identity, manager.Identity())
}

func TestIdentityManager_ClosedRejectsLoad(t *testing.T) {
	manager := NewIdentityManager(&config.Configuration{}, testLogger())
	require.NoError(t, manager.Close())

	_, err := manager.Load()
	require.Error(t, err)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindParamError, sslErr.Kind)

	// Closing again is a no-op.
	assert.NoError(t, manager.Close())
}

func TestIdentityManager_WatchRequiresFiles(t *testing.T) {
	manager := NewIdentityManager(&config.Configuration{}, testLogger())
	t.Cleanup(func() { manager.Close() })

	err := manager.Watch(nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no credential files")
}
