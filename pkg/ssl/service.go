package ssl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/preecet/BlueSSLService/pkg/config"
)

// Service validates a configuration once and then mints sessions for
// accepted or initiated connections. One Service instance serves many
// concurrent sessions.
type Service struct {
	cfg      *config.Configuration
	role     Role
	identity *IdentityManager
	logger   *slog.Logger

	mutex       sync.RWMutex
	initialized bool
}

// NewService creates an uninitialized service around the configuration.
func NewService(cfg *config.Configuration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		logger: logger.With("component", "ssl"),
	}
}

// Configuration returns the service's configuration.
func (s *Service) Configuration() *config.Configuration { return s.cfg }

// Initialize validates the configuration for the given role and preloads
// the local credential. It must succeed before any session is created.
func (s *Service) Initialize(asServer bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.initialized {
		return NewError(KindParamError, "service is already initialized")
	}

	role := RoleClient
	if asServer {
		role = RoleServer
	}

	if err := s.cfg.Validate(); err != nil {
		return NewErrorWithCause(KindParamError, "configuration is invalid", err)
	}
	if asServer && !s.cfg.HasIdentity() {
		return NewError(KindParamError, "server role requires a certificate and key")
	}

	manager := NewIdentityManager(s.cfg, s.logger)
	if _, err := manager.Load(); err != nil {
		manager.Close()
		return err
	}

	s.role = role
	s.identity = manager
	s.initialized = true

	s.logger.Info("service initialized",
		"role", role.String(),
		"engine", s.cfg.EngineName(),
		"self_signed", s.cfg.CertsAreSelfSigned)
	return nil
}

// WatchCredentials starts hot reloading of the credential files. New
// sessions pick up the reloaded credential; established sessions keep the
// one they negotiated with.
func (s *Service) WatchCredentials() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.initialized {
		return NewError(KindParamError, "service is not initialized")
	}
	return s.identity.Watch(nil)
}

// OnAccept wraps an accepted connection's descriptor in a server session
// and runs the handshake.
func (s *Service) OnAccept(ctx context.Context, fd int) (*Session, error) {
	return s.prepareConnection(ctx, fd, RoleServer)
}

// OnConnect wraps an initiated connection's descriptor in a client session
// and runs the handshake.
func (s *Service) OnConnect(ctx context.Context, fd int) (*Session, error) {
	return s.prepareConnection(ctx, fd, RoleClient)
}

func (s *Service) prepareConnection(ctx context.Context, fd int, role Role) (*Session, error) {
	s.mutex.RLock()
	initialized, serviceRole, manager := s.initialized, s.role, s.identity
	s.mutex.RUnlock()

	if !initialized {
		return nil, NewError(KindParamError, "service is not initialized")
	}
	if role != serviceRole {
		return nil, NewError(KindParamError,
			fmt.Sprintf("service initialized for %s role, cannot handle %s connection", serviceRole, role))
	}
	if fd < 0 {
		return nil, NewError(KindParamError, fmt.Sprintf("invalid socket descriptor %d", fd))
	}

	session, err := newSession(role, fd, s.cfg, manager.Identity(), s.logger)
	if err != nil {
		return nil, err
	}

	if s.cfg.Timeouts.Handshake > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeouts.Handshake)
		defer cancel()
	}

	if err := session.Handshake(ctx); err != nil {
		session.Close()
		return nil, err
	}

	if !s.cfg.CertsAreSelfSigned || role == RoleClient {
		if err := session.VerifyConnection(); err != nil {
			session.Close()
			return nil, err
		}
	}
	return session, nil
}

// Deinitialize releases the service's resources. Sessions already handed
// out stay usable; only new session creation stops.
func (s *Service) Deinitialize() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false

	var err error
	if s.identity != nil {
		err = s.identity.Close()
		s.identity = nil
	}

	s.logger.Info("service deinitialized")
	return err
}
