package ssl

import (
	"context"
	"fmt"
	"sync"

	"github.com/preecet/BlueSSLService/pkg/config"
)

// Role is the negotiated side of a session.
type Role int

const (
	// RoleServer accepts handshakes and presents the configured identity.
	RoleServer Role = iota
	// RoleClient initiates handshakes and verifies the peer unless the
	// configuration marks certificates as self-signed.
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Engine is the capability interface of the underlying TLS implementation.
// The session layer drives it through these operations only, so backends are
// swappable without touching the Session or Service logic.
//
// Handshake, Read, and Write may fail with a would-block error, meaning the
// operation must be retried; the session's internal loops handle that, so
// callers of Session never see it.
type Engine interface {
	// Handshake advances the TLS negotiation. The context bounds the
	// attempt; an exceeded deadline surfaces as an IOError.
	Handshake(ctx context.Context) error

	// Read decrypts application bytes into p.
	Read(p []byte) (int, error)

	// Write encrypts and transmits application bytes from p.
	Write(p []byte) (int, error)

	// VerifyPeer re-checks the peer's authentication after the handshake.
	VerifyPeer() error

	// Close sends the closure alert and releases the engine context. Must be
	// safe to call exactly once; the Session guarantees single invocation.
	Close() error
}

// EngineFactory constructs an engine bound to a bridge. The identity may be
// nil for client sessions without a client certificate.
type EngineFactory func(role Role, bridge *Bridge, cfg *config.Configuration, identity *Identity) (Engine, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]EngineFactory)
)

// RegisterEngineBackend makes an engine implementation selectable by name in
// the configuration. Registering a duplicate name panics: backends are wired
// at init time and a collision is a programming error.
func RegisterEngineBackend(name string, factory EngineFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, exists := backends[name]; exists {
		panic(fmt.Sprintf("ssl: engine backend %q registered twice", name))
	}
	backends[name] = factory
}

// newEngine resolves the configured backend and binds it to the bridge.
func newEngine(role Role, bridge *Bridge, cfg *config.Configuration, identity *Identity) (Engine, error) {
	name := cfg.EngineName()

	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, NewError(KindParamError, fmt.Sprintf("unknown engine backend %q", name))
	}

	return factory(role, bridge, cfg, identity)
}
