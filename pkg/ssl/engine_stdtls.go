package ssl

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/preecet/BlueSSLService/pkg/config"
)

// StdTLSEngine is the name of the default engine backend, built on the
// standard library TLS implementation driven through the I/O bridge.
const StdTLSEngine = "stdtls"

func init() {
	RegisterEngineBackend(StdTLSEngine, newStdTLSEngine)
}

// stdTLSEngine adapts crypto/tls onto the Engine interface. The TLS record
// machinery reads and writes through a bridgeConn, so every byte still flows
// through the bridge's status translation.
type stdTLSEngine struct {
	role         Role
	cfg          *config.Configuration
	bc           *bridgeConn
	conn         *tls.Conn
	peerVerified bool
	closed       bool
}

func newStdTLSEngine(role Role, bridge *Bridge, cfg *config.Configuration, identity *Identity) (Engine, error) {
	engine := &stdTLSEngine{
		role: role,
		cfg:  cfg,
		bc:   &bridgeConn{bridge: bridge},
	}

	tlsConfig, err := engine.buildTLSConfig(identity)
	if err != nil {
		return nil, err
	}

	if role == RoleServer {
		engine.conn = tls.Server(engine.bc, tlsConfig)
	} else {
		engine.conn = tls.Client(engine.bc, tlsConfig)
	}
	return engine, nil
}

func (e *stdTLSEngine) buildTLSConfig(identity *Identity) (*tls.Config, error) {
	suites, err := parseCipherSuites(e.cfg.CipherPolicy())
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: suites,
	}

	if identity != nil {
		tlsConfig.Certificates = []tls.Certificate{identity.Certificate}
	}

	if e.role == RoleServer {
		if identity == nil {
			return nil, NewError(KindParamError, "server session requires an identity")
		}
		// A CA source on a verified-mode server means mutual TLS: peers must
		// present a certificate chaining to it.
		if !e.cfg.CertsAreSelfSigned && (e.cfg.CACertificateFilePath != "" || e.cfg.CACertificateDirPath != "") {
			pool, err := loadTrustAnchors(e.cfg)
			if err != nil {
				return nil, err
			}
			tlsConfig.ClientCAs = pool
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
		return tlsConfig, nil
	}

	// Client side. Sessions bind to raw descriptors, so there is no hostname
	// to verify against; chain verification runs in VerifyPeerCertificate
	// instead of the default verifier.
	tlsConfig.InsecureSkipVerify = true
	if e.cfg.CertsAreSelfSigned {
		// Trust is established solely by the identities both ends present.
		return tlsConfig, nil
	}

	pool, err := loadTrustAnchors(e.cfg)
	if err != nil {
		return nil, err
	}
	tlsConfig.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return NewError(KindAuthFailed, "peer presented no certificate")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return NewErrorWithCause(KindAuthFailed, fmt.Sprintf("parse peer certificate %d", i), err)
			}
			certs = append(certs, cert)
		}
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		if _, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         pool,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}); err != nil {
			return mapTLSError(err, true)
		}
		e.peerVerified = true
		return nil
	}
	return tlsConfig, nil
}

// Handshake runs one handshake attempt bounded by the context deadline or
// the configured handshake timeout, whichever is set.
func (e *stdTLSEngine) Handshake(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok && e.cfg.Timeouts.Handshake > 0 {
		deadline = time.Now().Add(e.cfg.Timeouts.Handshake)
	}
	e.bc.setDeadline(deadline)
	defer e.bc.setDeadline(time.Time{})

	return mapTLSError(e.conn.Handshake(), true)
}

func (e *stdTLSEngine) Read(p []byte) (int, error) {
	if e.cfg.Timeouts.Read > 0 {
		e.bc.readDeadline = time.Now().Add(e.cfg.Timeouts.Read)
		defer func() { e.bc.readDeadline = time.Time{} }()
	}
	n, err := e.conn.Read(p)
	return n, mapTLSError(err, false)
}

func (e *stdTLSEngine) Write(p []byte) (int, error) {
	if e.cfg.Timeouts.Write > 0 {
		e.bc.writeDeadline = time.Now().Add(e.cfg.Timeouts.Write)
		defer func() { e.bc.writeDeadline = time.Time{} }()
	}
	n, err := e.conn.Write(p)
	return n, mapTLSError(err, false)
}

// VerifyPeer re-checks peer authentication after the handshake. For verified
// clients the custom chain verification must have run; servers without
// mutual TLS have nothing to re-check.
func (e *stdTLSEngine) VerifyPeer() error {
	state := e.conn.ConnectionState()
	if !state.HandshakeComplete {
		return NewError(KindParamError, "handshake has not completed")
	}
	if e.role == RoleClient {
		if len(state.PeerCertificates) == 0 {
			return NewError(KindAuthFailed, "peer presented no certificate")
		}
		if !e.cfg.CertsAreSelfSigned && !e.peerVerified {
			return NewError(KindAuthFailed, "peer certificate chain was not verified")
		}
		return nil
	}
	if !e.cfg.CertsAreSelfSigned && len(state.PeerCertificates) > 0 && len(state.VerifiedChains) == 0 {
		return NewError(KindAuthFailed, "client certificate chain was not verified")
	}
	return nil
}

// Close sends the TLS closure alert. The socket descriptor itself stays
// open; it belongs to the caller.
func (e *stdTLSEngine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	// Bound the closure alert write so a dead peer cannot stall shutdown.
	e.bc.setDeadline(time.Now().Add(5 * time.Second))
	err := e.conn.Close()
	e.bc.setDeadline(time.Time{})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return mapTLSError(err, false)
	}
	return nil
}

// negotiated reports the agreed protocol version and cipher suite for
// logging and metrics.
func (e *stdTLSEngine) negotiated() (version, cipherSuite string, ok bool) {
	state := e.conn.ConnectionState()
	if !state.HandshakeComplete {
		return "", "", false
	}
	return tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite), true
}

// bridgeConn presents the I/O bridge as a net.Conn for the record layer.
// WouldBlock never escapes upward: the conn waits for readiness (bounded by
// the deadline) and retries, so crypto/tls always observes a completed or
// failed syscall-level operation.
type bridgeConn struct {
	bridge        *Bridge
	readDeadline  time.Time
	writeDeadline time.Time
}

func (c *bridgeConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, status := c.bridge.WantsRead(p)
		switch status {
		case StatusOK:
			return n, nil
		case StatusWouldBlock:
			if n > 0 {
				// Partial data satisfies an io.Reader; the record layer
				// re-invokes for the remainder.
				return n, nil
			}
			if err := c.bridge.waitReadable(c.readDeadline); err != nil {
				return 0, err
			}
		case StatusClosedGracefully:
			return 0, io.EOF
		case StatusClosedAbort:
			return 0, NewError(KindClosedAbort, "connection reset by peer")
		default:
			return 0, NewError(KindIOError, "socket read failed")
		}
	}
}

func (c *bridgeConn) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, status := c.bridge.WantsWrite(p[total:])
		switch status {
		case StatusOK:
			total += n
		case StatusWouldBlock:
			if err := c.bridge.waitWritable(c.writeDeadline); err != nil {
				return total, err
			}
		case StatusClosedGracefully, StatusClosedAbort:
			return total, NewError(KindClosedAbort, "peer closed connection during write")
		default:
			return total, NewError(KindIOError, "socket write failed")
		}
	}
	return total, nil
}

// Close is a no-op: the descriptor's lifecycle belongs to the caller.
func (c *bridgeConn) Close() error { return nil }

func (c *bridgeConn) LocalAddr() net.Addr  { return descriptorAddr(c.bridge.Descriptor()) }
func (c *bridgeConn) RemoteAddr() net.Addr { return descriptorAddr(c.bridge.Descriptor()) }

func (c *bridgeConn) SetDeadline(t time.Time) error {
	c.readDeadline = t
	c.writeDeadline = t
	return nil
}

func (c *bridgeConn) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}

func (c *bridgeConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline = t
	return nil
}

func (c *bridgeConn) setDeadline(t time.Time) {
	c.readDeadline = t
	c.writeDeadline = t
}

// descriptorAddr is the net.Addr of a session bound directly to a file
// descriptor.
type descriptorAddr int

func (a descriptorAddr) Network() string { return "fd" }
func (a descriptorAddr) String() string  { return fmt.Sprintf("fd:%d", int(a)) }

// loadTrustAnchors builds the CA pool from the configured file or hashed
// directory.
func loadTrustAnchors(cfg *config.Configuration) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	loaded := false

	if cfg.CACertificateFilePath != "" {
		data, err := os.ReadFile(cfg.CACertificateFilePath)
		if err != nil {
			return nil, NewErrorWithCause(KindImportFailed, "read CA certificate file", err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, NewError(KindImportFailed,
				fmt.Sprintf("no certificates found in %s", cfg.CACertificateFilePath))
		}
		loaded = true
	}

	if cfg.CACertificateDirPath != "" {
		entries, err := os.ReadDir(cfg.CACertificateDirPath)
		if err != nil {
			return nil, NewErrorWithCause(KindImportFailed, "read CA certificate directory", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, err := os.ReadFile(cfg.CACertificateDirPath + "/" + entry.Name())
			if err != nil {
				continue
			}
			if pool.AppendCertsFromPEM(data) {
				loaded = true
			}
		}
	}

	if !loaded {
		return nil, NewError(KindImportFailed, "no usable trust anchors configured")
	}
	return pool, nil
}

// parseCipherSuites resolves configured suite names to their numeric IDs.
// Unknown or insecure names are rejected rather than silently skipped.
// TLS 1.3 suites are not configurable in the standard library and are
// filtered out after validation.
func parseCipherSuites(names []string) ([]uint16, error) {
	known := make(map[string]uint16)
	tls13 := make(map[string]bool)
	for _, suite := range tls.CipherSuites() {
		known[suite.Name] = suite.ID
		only13 := len(suite.SupportedVersions) > 0
		for _, v := range suite.SupportedVersions {
			if v != tls.VersionTLS13 {
				only13 = false
			}
		}
		tls13[suite.Name] = only13
	}
	insecure := make(map[string]bool)
	for _, suite := range tls.InsecureCipherSuites() {
		insecure[suite.Name] = true
	}

	var ids []uint16
	for _, name := range names {
		name = strings.TrimSpace(name)
		if insecure[name] {
			return nil, NewError(KindParamError, fmt.Sprintf("cipher suite %s is insecure", name))
		}
		id, ok := known[name]
		if !ok {
			return nil, NewError(KindParamError, fmt.Sprintf("unknown cipher suite %s", name))
		}
		if tls13[name] {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// mapTLSError narrows a TLS or socket error into the session taxonomy.
// Bridge errors pass through untouched; everything else is classified by
// type first, then by the alert text the standard library reports.
func mapTLSError(err error, handshaking bool) error {
	if err == nil {
		return nil
	}
	if sslErr, ok := AsError(err); ok {
		return sslErr
	}

	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return NewErrorWithCause(KindIOError, "operation deadline exceeded", err)
	case errors.Is(err, io.EOF):
		if handshaking {
			return NewErrorWithCause(KindClosedAbort, "peer closed connection during handshake", err)
		}
		return NewErrorWithCause(KindClosedGracefully, "peer closed connection", err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return NewErrorWithCause(KindClosedAbort, "connection closed mid-record", err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return NewErrorWithCause(KindClosedAbort, "connection reset by peer", err)
	case errors.Is(err, net.ErrClosed):
		return NewErrorWithCause(KindClosedAbort, "connection already closed", err)
	}

	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return NewErrorWithCause(KindPeerUnknownCA, "peer certificate signed by unknown authority", err)
	}
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		return NewErrorWithCause(KindAuthFailed, "peer certificate is not valid", err)
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return NewErrorWithCause(KindAuthFailed, "peer certificate does not match expected identity", err)
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return NewErrorWithCause(KindNegotiationFailed, "malformed TLS record header", err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "bad record MAC"):
		return NewErrorWithCause(KindBadRecordMac, "record integrity check failed", err)
	case strings.Contains(msg, "unknown certificate authority"):
		return NewErrorWithCause(KindPeerUnknownCA, "peer reported an unknown certificate authority", err)
	case strings.Contains(msg, "bad certificate"),
		strings.Contains(msg, "certificate required"),
		strings.Contains(msg, "expired certificate"),
		strings.Contains(msg, "unknown certificate"):
		return NewErrorWithCause(KindAuthFailed, "certificate authentication failed", err)
	case strings.Contains(msg, "handshake failure"),
		strings.Contains(msg, "no cipher suite"),
		strings.Contains(msg, "protocol version"),
		strings.Contains(msg, "unsupported versions"):
		return NewErrorWithCause(KindNegotiationFailed, "TLS negotiation failed", err)
	}

	if handshaking {
		return NewErrorWithCause(KindNegotiationFailed, "TLS handshake failed", err)
	}
	return NewErrorWithCause(KindIOError, "TLS I/O failed", err)
}
