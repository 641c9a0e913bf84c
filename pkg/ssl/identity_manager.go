package ssl

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/preecet/BlueSSLService/pkg/config"
)

// IdentityManager loads, validates and caches the local credential, and can
// watch its source files for changes.
type IdentityManager struct {
	cfg              *config.Configuration
	identity         *Identity
	watcher          *fsnotify.Watcher
	reloadChan       chan struct{}
	mutex            sync.RWMutex
	logger           *slog.Logger
	metricsCollector *MetricsCollector
	closed           bool
}

// NewIdentityManager creates a manager for the credential named by the
// configuration.
func NewIdentityManager(cfg *config.Configuration, logger *slog.Logger) *IdentityManager {
	if logger == nil {
		logger = slog.Default()
	}

	// Metrics are optional; a missing provider only disables recording.
	metricsCollector, _ := GetMetricsCollector(logger)

	return &IdentityManager{
		cfg:              cfg,
		reloadChan:       make(chan struct{}, 1),
		logger:           logger,
		metricsCollector: metricsCollector,
	}
}

// Load reads and validates the credential, caching it on success. Sessions
// with no local credential (an anonymous verified-mode client) cache nil.
func (m *IdentityManager) Load() (*Identity, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, NewError(KindParamError, "identity manager is closed")
	}
	return m.loadLocked()
}

func (m *IdentityManager) loadLocked() (*Identity, error) {
	ctx := context.Background()

	identity, err := LoadIdentity(m.cfg)
	if err != nil {
		if m.metricsCollector != nil {
			kind := KindImportFailed
			if sslErr, ok := AsError(err); ok {
				kind = sslErr.Kind
			}
			m.metricsCollector.RecordIdentityError(ctx, string(kind), err.Error())
		}
		return nil, err
	}

	if identity == nil {
		m.identity = nil
		return nil, nil
	}

	if err := m.validate(identity); err != nil {
		if m.metricsCollector != nil {
			m.metricsCollector.RecordIdentityError(ctx, "validation", err.Error())
		}
		return nil, err
	}

	m.identity = identity
	m.logger.Info("credential loaded",
		"source", identity.Source,
		"subject", identity.Leaf.Subject.String(),
		"not_before", identity.Leaf.NotBefore,
		"not_after", identity.Leaf.NotAfter,
		"chain_length", len(identity.Chain),
		"serial_number", identity.Leaf.SerialNumber.String())

	if m.metricsCollector != nil {
		m.metricsCollector.RecordIdentityExpiry(ctx, identity.Leaf.Subject.String(), identity.Leaf.NotAfter)
	}
	return identity, nil
}

// Identity returns the cached credential without touching the filesystem.
func (m *IdentityManager) Identity() *Identity {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.identity
}

// validate runs the structural checks that loading alone does not cover.
func (m *IdentityManager) validate(identity *Identity) error {
	leaf := identity.Leaf
	now := time.Now()

	if now.Before(leaf.NotBefore) {
		return NewError(KindImportFailed,
			fmt.Sprintf("certificate is not valid until %s", leaf.NotBefore))
	}
	if now.After(leaf.NotAfter) {
		return NewError(KindImportFailed,
			fmt.Sprintf("certificate expired at %s", leaf.NotAfter))
	}

	daysUntilExpiry := int(time.Until(leaf.NotAfter).Hours() / 24)
	if daysUntilExpiry <= 30 {
		m.logger.Warn("credential expires soon",
			"subject", leaf.Subject.String(),
			"days_until_expiry", daysUntilExpiry,
			"expiry_date", leaf.NotAfter)
	}

	if err := validateKeyUsage(leaf); err != nil {
		return NewErrorWithCause(KindImportFailed, "certificate key usage is unsuitable", err)
	}
	if err := validateAlgorithms(leaf); err != nil {
		return NewErrorWithCause(KindImportFailed, "certificate uses weak cryptography", err)
	}

	// A broken intermediate order is survivable, some peers reorder, so it
	// only warns.
	if err := checkChainSignatures(leaf, identity.Chain); err != nil {
		m.logger.Warn("credential chain does not verify in order",
			"subject", leaf.Subject.String(),
			"error", err)
	}
	return nil
}

func validateKeyUsage(cert *x509.Certificate) error {
	if cert.KeyUsage != 0 &&
		cert.KeyUsage&x509.KeyUsageKeyEncipherment == 0 &&
		cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return fmt.Errorf("certificate lacks required key usage (KeyEncipherment or DigitalSignature)")
	}
	return nil
}

func validateAlgorithms(cert *x509.Certificate) error {
	switch cert.SignatureAlgorithm {
	case x509.MD2WithRSA, x509.MD5WithRSA, x509.SHA1WithRSA:
		return fmt.Errorf("certificate uses weak signature algorithm: %s", cert.SignatureAlgorithm)
	}

	switch pubKey := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if pubKey.N.BitLen() < 2048 {
			return fmt.Errorf("RSA key size too small: %d bits (minimum 2048)", pubKey.N.BitLen())
		}
	case *ecdsa.PublicKey:
		if pubKey.Curve.Params().BitSize < 256 {
			return fmt.Errorf("ECDSA key size too small: %d bits (minimum 256)", pubKey.Curve.Params().BitSize)
		}
	}
	return nil
}

// checkChainSignatures verifies each certificate is signed by its successor.
func checkChainSignatures(leaf *x509.Certificate, chain []*x509.Certificate) error {
	certs := append([]*x509.Certificate{leaf}, chain...)
	for i := 0; i < len(certs)-1; i++ {
		if err := certs[i].CheckSignatureFrom(certs[i+1]); err != nil {
			return fmt.Errorf("certificate %d is not signed by certificate %d: %w", i, i+1, err)
		}
	}
	return nil
}

// Watch starts watching the credential source files and reloads on change.
// The callback, if non-nil, runs after every successful reload.
func (m *IdentityManager) Watch(callback func(*Identity)) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return NewError(KindParamError, "identity manager is closed")
	}
	if m.watcher != nil {
		return NewError(KindParamError, "identity manager is already watching")
	}

	paths := m.sourcePaths()
	if len(paths) == 0 {
		return NewError(KindParamError, "no credential files configured to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewErrorWithCause(KindIOError, "create file watcher", err)
	}
	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return NewErrorWithCause(KindIOError, fmt.Sprintf("watch credential file %s", path), err)
		}
	}

	m.watcher = watcher
	go m.watchFiles(watcher, callback)

	m.logger.Info("watching credential files", "file_count", len(paths))
	return nil
}

func (m *IdentityManager) sourcePaths() []string {
	var paths []string
	if m.cfg.CertificateChainFilePath != "" {
		return append(paths, m.cfg.CertificateChainFilePath)
	}
	if m.cfg.CertificateFilePath != "" {
		paths = append(paths, m.cfg.CertificateFilePath)
	}
	if m.cfg.KeyFilePath != "" && m.cfg.KeyFilePath != m.cfg.CertificateFilePath {
		paths = append(paths, m.cfg.KeyFilePath)
	}
	return paths
}

func (m *IdentityManager) watchFiles(watcher *fsnotify.Watcher, callback func(*Identity)) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				m.logger.Info("credential file changed", "file", event.Name, "operation", event.Op.String())

				// Small delay coalesces the burst of writes a renaming
				// deploy tool produces.
				go func() {
					time.Sleep(100 * time.Millisecond)
					select {
					case m.reloadChan <- struct{}{}:
						m.reload(callback)
						<-m.reloadChan
					default:
						// Reload already pending.
					}
				}()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("credential file watcher error", "error", err)
		}
	}
}

func (m *IdentityManager) reload(callback func(*Identity)) {
	ctx := context.Background()

	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	identity, err := m.loadLocked()
	m.mutex.Unlock()

	if err != nil {
		if m.metricsCollector != nil {
			m.metricsCollector.RecordIdentityReload(ctx, false, err.Error())
		}
		m.logger.Error("failed to reload credential after file change", "error", err)
		return
	}

	if m.metricsCollector != nil {
		m.metricsCollector.RecordIdentityReload(ctx, true, "")
	}
	if callback != nil {
		callback(identity)
	}
}

// Close stops file watching and drops the cached credential.
func (m *IdentityManager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			m.logger.Error("failed to close file watcher", "error", err)
		}
		m.watcher = nil
	}
	m.identity = nil
	return nil
}
