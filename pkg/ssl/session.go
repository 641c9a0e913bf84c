package ssl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/preecet/BlueSSLService/pkg/config"
)

// Phase is the lifecycle state of a session.
type Phase int32

const (
	// PhaseCreated means the session exists but has no engine context yet.
	PhaseCreated Phase = iota

	// PhaseContextReady means the engine is constructed and bound to the
	// descriptor.
	PhaseContextReady

	// PhaseHandshaking means a handshake attempt is in progress.
	PhaseHandshaking

	// PhaseEstablished means the handshake completed and application data
	// may flow.
	PhaseEstablished

	// PhaseClosed means the session was shut down. Terminal.
	PhaseClosed

	// PhaseFailed means a fatal error ended the session before or after
	// establishment. Terminal.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseContextReady:
		return "context_ready"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseEstablished:
		return "established"
	case PhaseClosed:
		return "closed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// connectionStater is implemented by engines that can report negotiated
// protocol parameters.
type connectionStater interface {
	negotiated() (version, cipherSuite string, ok bool)
}

// Session is one TLS connection bound to a socket descriptor. All methods
// except Close assume a single caller; Close may race with anything.
type Session struct {
	id     string
	role   Role
	cfg    *config.Configuration
	bridge *Bridge
	engine Engine

	phase atomic.Int32

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64

	// metricsActive is set while the session counts toward the active
	// sessions gauge, so failure and close paths decrement exactly once.
	metricsActive atomic.Bool

	createdAt     time.Time
	establishedAt time.Time

	closeOnce sync.Once
	closeErr  error

	logger           *slog.Logger
	metricsCollector *MetricsCollector
}

// newSession builds a session for the descriptor using the configured
// engine backend.
func newSession(role Role, fd int, cfg *config.Configuration, identity *Identity, logger *slog.Logger) (*Session, error) {
	bridge := NewBridge(fd)
	if err := bridge.setNonblocking(); err != nil {
		return nil, err
	}
	engine, err := newEngine(role, bridge, cfg, identity)
	if err != nil {
		return nil, err
	}
	return newSessionWithEngine(role, bridge, cfg, engine, logger), nil
}

// newSessionWithEngine wires a session around an already constructed engine.
func newSessionWithEngine(role Role, bridge *Bridge, cfg *config.Configuration, engine Engine, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	metricsCollector, _ := GetMetricsCollector(logger)

	s := &Session{
		id:               uuid.NewString(),
		role:             role,
		cfg:              cfg,
		bridge:           bridge,
		engine:           engine,
		createdAt:        time.Now(),
		logger:           logger,
		metricsCollector: metricsCollector,
	}
	s.phase.Store(int32(PhaseContextReady))
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Role reports whether this end accepted or initiated the connection.
func (s *Session) Role() Role { return s.role }

// Phase returns the current lifecycle state.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// Descriptor returns the socket descriptor the session is bound to.
func (s *Session) Descriptor() int { return s.bridge.Descriptor() }

// BytesSent returns the total plaintext bytes written so far.
func (s *Session) BytesSent() int64 { return s.bytesSent.Load() }

// BytesReceived returns the total plaintext bytes read so far.
func (s *Session) BytesReceived() int64 { return s.bytesReceived.Load() }

// Handshake drives the TLS handshake to completion. WouldBlock results from
// the engine are retried until the context is done; any fatal error moves
// the session to the failed state.
func (s *Session) Handshake(ctx context.Context) error {
	if !s.phase.CompareAndSwap(int32(PhaseContextReady), int32(PhaseHandshaking)) {
		return NewError(KindParamError,
			fmt.Sprintf("handshake not allowed in phase %s", s.Phase()))
	}

	if s.metricsCollector != nil {
		s.metricsCollector.RecordSessionStart(ctx, s.role.String())
		s.metricsActive.Store(true)
	}
	start := time.Now()

	for {
		err := s.engine.Handshake(ctx)
		if err == nil {
			break
		}
		if IsWouldBlock(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.failHandshake(ctx, NewErrorWithCause(KindIOError, "handshake deadline exceeded", ctxErr))
			}
			continue
		}
		return s.failHandshake(ctx, err)
	}

	s.establishedAt = time.Now()
	s.phase.Store(int32(PhaseEstablished))

	version, cipherSuite := s.negotiated()
	s.logger.Info("session established",
		"session_id", s.id,
		"role", s.role.String(),
		"tls_version", version,
		"cipher_suite", cipherSuite,
		"handshake_duration", time.Since(start))

	if s.metricsCollector != nil {
		s.metricsCollector.RecordHandshakeSuccess(ctx, s.role.String(), version, cipherSuite, time.Since(start))
	}
	return nil
}

func (s *Session) failHandshake(ctx context.Context, err error) error {
	s.phase.Store(int32(PhaseFailed))

	kind := KindNegotiationFailed
	if sslErr, ok := AsError(err); ok {
		kind = sslErr.Kind
	}
	s.logger.Error("handshake failed",
		"session_id", s.id,
		"role", s.role.String(),
		"error_kind", string(kind),
		"error", err)

	if s.metricsCollector != nil && s.metricsActive.CompareAndSwap(true, false) {
		s.metricsCollector.RecordHandshakeError(ctx, s.role.String(), string(kind))
	}
	return err
}

func (s *Session) negotiated() (version, cipherSuite string) {
	if stater, ok := s.engine.(connectionStater); ok {
		if v, c, ok := stater.negotiated(); ok {
			return v, c
		}
	}
	return "unknown", "unknown"
}

// VerifyConnection re-validates the peer after the handshake. Self-signed
// servers skip verification: their peers are anonymous by construction.
func (s *Session) VerifyConnection() error {
	if s.Phase() != PhaseEstablished {
		return NewError(KindParamError,
			fmt.Sprintf("verify not allowed in phase %s", s.Phase()))
	}
	if s.role == RoleServer && s.cfg.CertsAreSelfSigned {
		return nil
	}
	return s.engine.VerifyPeer()
}

// Send writes the whole payload, retrying WouldBlock and continuing partial
// writes. An empty payload is a no-op. A graceful close mid-write closes the
// session and returns the count written together with the error.
func (s *Session) Send(p []byte) (int, error) {
	if err := s.checkEstablished("send"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := 0
	for total < len(p) {
		n, err := s.engine.Write(p[total:])
		total += n
		if err == nil {
			continue
		}
		if IsWouldBlock(err) {
			continue
		}
		if IsClosedGracefully(err) {
			s.phase.Store(int32(PhaseClosed))
			s.recordSent(total)
			return total, err
		}
		s.phase.Store(int32(PhaseFailed))
		s.recordSent(total)
		return total, err
	}

	s.recordSent(total)
	return total, nil
}

// Recv reads up to len(p) bytes of plaintext. An orderly peer shutdown
// returns (0, nil); the caller distinguishes it from a zero-length buffer by
// the buffer it passed.
func (s *Session) Recv(p []byte) (int, error) {
	if err := s.checkEstablished("recv"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := s.engine.Read(p)
		if err == nil {
			s.recordReceived(n)
			return n, nil
		}
		if IsWouldBlock(err) {
			continue
		}
		if IsClosedGracefully(err) {
			s.recordReceived(n)
			s.phase.Store(int32(PhaseClosed))
			return n, nil
		}
		s.phase.Store(int32(PhaseFailed))
		s.recordReceived(n)
		return n, err
	}
}

func (s *Session) checkEstablished(op string) error {
	switch s.Phase() {
	case PhaseEstablished:
		return nil
	case PhaseClosed:
		return NewError(KindClosedGracefully, fmt.Sprintf("%s on closed session", op))
	case PhaseFailed:
		return NewError(KindClosedAbort, fmt.Sprintf("%s on failed session", op))
	default:
		return NewError(KindParamError,
			fmt.Sprintf("%s not allowed in phase %s", op, s.Phase()))
	}
}

func (s *Session) recordSent(n int) {
	if n > 0 {
		s.bytesSent.Add(int64(n))
		if s.metricsCollector != nil {
			s.metricsCollector.RecordBytesSent(context.Background(), n)
		}
	}
}

func (s *Session) recordReceived(n int) {
	if n > 0 {
		s.bytesReceived.Add(int64(n))
		if s.metricsCollector != nil {
			s.metricsCollector.RecordBytesReceived(context.Background(), n)
		}
	}
}

// Close shuts the session down. Safe to call from any phase and from
// concurrent goroutines; only the first call does work. The socket
// descriptor stays open for the caller.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		wasEstablished := s.Phase() == PhaseEstablished
		s.phase.Store(int32(PhaseClosed))

		s.closeErr = s.engine.Close()

		duration := time.Duration(0)
		if wasEstablished {
			duration = time.Since(s.establishedAt)
		}
		s.logger.Debug("session closed",
			"session_id", s.id,
			"role", s.role.String(),
			"bytes_sent", s.bytesSent.Load(),
			"bytes_received", s.bytesReceived.Load(),
			"duration", duration)

		if s.metricsCollector != nil && s.metricsActive.CompareAndSwap(true, false) {
			s.metricsCollector.RecordSessionEnd(context.Background(), s.role.String(), duration)
		}
	})
	return s.closeErr
}
