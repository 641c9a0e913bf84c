package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServiceConfig is the on-disk configuration for the binaries: where to
// listen or connect, how to log, where to export traces, and the SSL session
// configuration itself.
type ServiceConfig struct {
	// Listen is the TCP address a server binds, e.g. ":8443".
	Listen string `yaml:"listen,omitempty"`

	// Target is the TCP address a client dials.
	Target string `yaml:"target,omitempty"`

	// MetricsListen is the address of the HTTP metrics endpoint. Empty
	// disables it.
	MetricsListen string `yaml:"metrics_listen,omitempty"`

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty"`

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// SSL is the session configuration handed to the service.
	SSL Configuration `yaml:"ssl"`
}

// LoadFile reads and decodes a YAML service configuration. Unknown fields are
// rejected so typos surface at startup rather than as silently ignored
// settings.
func LoadFile(path string) (*ServiceConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- path is operator-supplied at startup
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &ServiceConfig{
		LogLevel: "info",
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", absPath, err)
	}

	if cfg.SSL.Timeouts == (Timeouts{}) {
		cfg.SSL.Timeouts = DefaultTimeouts()
	}

	return cfg, nil
}
