package ssl

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preecet/BlueSSLService/pkg/config"
)

// selfSignedServerConfig builds a server configuration around a generated
// self-signed credential.
func selfSignedServerConfig(t *testing.T) *config.Configuration {
	t.Helper()
	dir := t.TempDir()
	leaf := newSelfSignedLeaf(t, "echo.test")

	certPath := writeTestFile(t, dir, "cert.pem", leaf.certPEM)
	keyPath := writeTestFile(t, dir, "key.pem", leaf.keyPEM)

	cfg := config.NewWithCAFile("", certPath, keyPath, true)
	cfg.Timeouts.Handshake = 10 * time.Second
	return &cfg
}

// selfSignedClientConfig builds a client that trusts whatever the peer
// presents, authenticating with its own self-signed credential.
func selfSignedClientConfig(t *testing.T) *config.Configuration {
	t.Helper()
	dir := t.TempDir()
	leaf := newSelfSignedLeaf(t, "client.test")

	certPath := writeTestFile(t, dir, "cert.pem", leaf.certPEM)
	keyPath := writeTestFile(t, dir, "key.pem", leaf.keyPEM)

	cfg := config.NewWithCAFile("", certPath, keyPath, true)
	cfg.Timeouts.Handshake = 10 * time.Second
	return &cfg
}

// startService initializes a service for the given role and tears it down
// with the test.
func startService(t *testing.T, cfg *config.Configuration, asServer bool) *Service {
	t.Helper()
	svc := NewService(cfg, testLogger())
	require.NoError(t, svc.Initialize(asServer))
	t.Cleanup(func() { svc.Deinitialize() })
	return svc
}

// connectPair performs a full handshake across a socket pair and returns
// both established sessions.
func connectPair(t *testing.T, server, client *Service) (*Session, *Session) {
	t.Helper()
	serverFD, clientFD := socketPair(t)

	type result struct {
		session *Session
		err     error
	}
	serverDone := make(chan result, 1)
	go func() {
		s, err := server.OnAccept(context.Background(), serverFD)
		serverDone <- result{s, err}
	}()

	clientSession, clientErr := client.OnConnect(context.Background(), clientFD)
	serverResult := <-serverDone

	require.NoError(t, clientErr)
	require.NoError(t, serverResult.err)
	t.Cleanup(func() {
		clientSession.Close()
		serverResult.session.Close()
	})
	return serverResult.session, clientSession
}

// recvFull reads exactly n bytes from the session.
func recvFull(t *testing.T, s *Session, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	total := 0
	for total < n {
		got, err := s.Recv(buf[total:])
		require.NoError(t, err)
		require.NotZero(t, got, "peer closed before full payload")
		total += got
	}
	return buf
}

func TestService_SelfSignedRoundTrip(t *testing.T) {
	server := startService(t, selfSignedServerConfig(t), true)
	client := startService(t, selfSignedClientConfig(t), false)

	serverSession, clientSession := connectPair(t, server, client)
	assert.Equal(t, PhaseEstablished, serverSession.Phase())
	assert.Equal(t, PhaseEstablished, clientSession.Phase())

	// Payloads spanning zero, one byte, and multiple TLS records.
	sizes := []int{0, 1, 1024, 48 * 1024}
	for _, size := range sizes {
		payload := make([]byte, size)
		_, err := rand.Read(payload)
		require.NoError(t, err)

		n, err := clientSession.Send(payload)
		require.NoError(t, err)
		require.Equal(t, size, n)

		if size == 0 {
			continue
		}
		received := recvFull(t, serverSession, size)
		require.True(t, bytes.Equal(payload, received), "payload mismatch at size %d", size)

		// Echo it back.
		_, err = serverSession.Send(received)
		require.NoError(t, err)
		echoed := recvFull(t, clientSession, size)
		require.True(t, bytes.Equal(payload, echoed), "echo mismatch at size %d", size)
	}

	assert.Greater(t, clientSession.BytesSent(), int64(0))
	assert.Greater(t, serverSession.BytesReceived(), int64(0))
}

func TestService_MutualTLSRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	serverLeaf := ca.issueLeaf(t, "server.test")
	clientLeaf := ca.issueLeaf(t, "client.test")
	caPath := writeTestFile(t, dir, "ca.pem", ca.pem)

	serverCfg := config.NewWithCAFile(caPath,
		writeTestFile(t, dir, "server-cert.pem", serverLeaf.certPEM),
		writeTestFile(t, dir, "server-key.pem", serverLeaf.keyPEM),
		false)
	serverCfg.Timeouts.Handshake = 10 * time.Second

	clientCfg := config.NewWithCAFile(caPath,
		writeTestFile(t, dir, "client-cert.pem", clientLeaf.certPEM),
		writeTestFile(t, dir, "client-key.pem", clientLeaf.keyPEM),
		false)
	clientCfg.Timeouts.Handshake = 10 * time.Second

	server := startService(t, &serverCfg, true)
	client := startService(t, &clientCfg, false)

	serverSession, clientSession := connectPair(t, server, client)

	assert.NoError(t, serverSession.VerifyConnection())
	assert.NoError(t, clientSession.VerifyConnection())

	payload := []byte("mutually authenticated")
	_, err := clientSession.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, recvFull(t, serverSession, len(payload)))
}

func TestService_ClientRejectsUnknownCA(t *testing.T) {
	dir := t.TempDir()
	serverCA := newTestCA(t)
	clientCA := newTestCA(t)
	serverLeaf := serverCA.issueLeaf(t, "server.test")
	clientLeaf := clientCA.issueLeaf(t, "client.test")

	serverCfg := config.NewWithCAFile("",
		writeTestFile(t, dir, "server-cert.pem", serverLeaf.certPEM),
		writeTestFile(t, dir, "server-key.pem", serverLeaf.keyPEM),
		true)
	serverCfg.Timeouts.Handshake = 5 * time.Second

	// The client trusts only its own authority, which did not issue the
	// server's certificate.
	clientCfg := config.NewWithCAFile(
		writeTestFile(t, dir, "other-ca.pem", clientCA.pem),
		writeTestFile(t, dir, "client-cert.pem", clientLeaf.certPEM),
		writeTestFile(t, dir, "client-key.pem", clientLeaf.keyPEM),
		false)
	clientCfg.Timeouts.Handshake = 5 * time.Second

	server := startService(t, &serverCfg, true)
	client := startService(t, &clientCfg, false)

	serverFD, clientFD := socketPair(t)
	serverDone := make(chan error, 1)
	go func() {
		session, err := server.OnAccept(context.Background(), serverFD)
		if session != nil {
			session.Close()
		}
		serverDone <- err
	}()

	session, err := client.OnConnect(context.Background(), clientFD)
	require.Error(t, err)
	require.Nil(t, session)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindPeerUnknownCA, sslErr.Kind)

	// The server side fails as well once the client sends its alert.
	assert.Error(t, <-serverDone)
}

func TestService_RoleMismatch(t *testing.T) {
	server := startService(t, selfSignedServerConfig(t), true)

	_, err := server.OnConnect(context.Background(), 3)
	require.Error(t, err)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindParamError, sslErr.Kind)
	assert.Contains(t, sslErr.Reason, "role")
}

func TestService_RequiresInitialization(t *testing.T) {
	svc := NewService(selfSignedClientConfig(t), testLogger())

	_, err := svc.OnConnect(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not initialized")

	assert.Error(t, svc.WatchCredentials())
}

func TestService_InitializeTwice(t *testing.T) {
	svc := startService(t, selfSignedClientConfig(t), false)

	err := svc.Initialize(false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "already initialized")
}

func TestService_InitializeRejectsInvalidConfig(t *testing.T) {
	// Self-signed mode with no credential at all.
	cfg := &config.Configuration{CertsAreSelfSigned: true}
	svc := NewService(cfg, testLogger())

	err := svc.Initialize(true)
	require.Error(t, err)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindParamError, sslErr.Kind)
	assert.True(t, config.IsMissingCredential(sslErr.Cause))
}

func TestService_InvalidDescriptor(t *testing.T) {
	client := startService(t, selfSignedClientConfig(t), false)

	_, err := client.OnConnect(context.Background(), -1)
	require.Error(t, err)
	sslErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindParamError, sslErr.Kind)
}

func TestService_HandshakeTimeoutWithSilentPeer(t *testing.T) {
	cfg := selfSignedServerConfig(t)
	cfg.Timeouts.Handshake = 250 * time.Millisecond
	server := startService(t, cfg, true)

	// The peer end of the pair never sends a ClientHello. The descriptor
	// handed to OnAccept starts out blocking, as it would coming from
	// net.TCPConn.File, so the timeout must not depend on the caller
	// having made it non-blocking.
	serverFD, _ := socketPair(t)

	done := make(chan error, 1)
	go func() {
		_, err := server.OnAccept(context.Background(), serverFD)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		sslErr, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, KindIOError, sslErr.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("OnAccept did not return after the handshake timeout")
	}
}

func TestService_DeinitializeStopsNewSessions(t *testing.T) {
	client := NewService(selfSignedClientConfig(t), testLogger())
	require.NoError(t, client.Initialize(false))
	require.NoError(t, client.Deinitialize())

	_, err := client.OnConnect(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not initialized")

	// Deinitializing again is harmless.
	assert.NoError(t, client.Deinitialize())
}

func TestService_UnknownEngineBackend(t *testing.T) {
	cfg := selfSignedClientConfig(t)
	cfg.Engine = "nonexistent"
	client := startService(t, cfg, false)

	fd, _ := socketPair(t)
	_, err := client.OnConnect(context.Background(), fd)
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown engine backend")
}

func TestService_SessionCloseLeavesDescriptorOpen(t *testing.T) {
	server := startService(t, selfSignedServerConfig(t), true)
	client := startService(t, selfSignedClientConfig(t), false)

	serverSession, clientSession := connectPair(t, server, client)
	fd := clientSession.Descriptor()

	require.NoError(t, clientSession.Close())
	serverSession.Close()

	// The descriptor is still valid after session close; the raw bridge can
	// observe the closure alert bytes the peer sent.
	bridge := NewBridge(fd)
	err := bridge.waitReadable(time.Now().Add(2 * time.Second))
	assert.NoError(t, err)
}

func TestService_WatchCredentials(t *testing.T) {
	server := startService(t, selfSignedServerConfig(t), true)
	require.NoError(t, server.WatchCredentials())
}
