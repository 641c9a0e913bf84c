package config

import (
	"errors"
	"fmt"
)

// ErrorKind categorises configuration validation failures.
type ErrorKind string

const (
	// ErrorKindMissingCredential means a required certificate or key path is
	// absent from the configuration.
	ErrorKindMissingCredential ErrorKind = "missing_credential"

	// ErrorKindMissingTrustAnchor means verified mode was requested without
	// any CA source or chain file.
	ErrorKindMissingTrustAnchor ErrorKind = "missing_trust_anchor"

	// ErrorKindPathNotFound means a configured path does not exist on the
	// filesystem, or has the wrong shape (a CA directory that is a file).
	ErrorKindPathNotFound ErrorKind = "path_not_found"

	// ErrorKindInvalidValue covers malformed field values such as unknown
	// cipher suite names.
	ErrorKindInvalidValue ErrorKind = "invalid_value"
)

// ConfigError is a structured validation error carrying the offending field,
// the path involved (when path-shaped), and resolution suggestions.
type ConfigError struct {
	Kind        ErrorKind
	Field       string
	Path        string
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] configuration error in field '%s': %s (path: %s)", e.Kind, e.Field, e.Reason, e.Path)
	}
	return fmt.Sprintf("[%s] configuration error in field '%s': %s", e.Kind, e.Field, e.Reason)
}

// WithSuggestion adds a resolution hint and returns the same error for
// chaining.
func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// NewMissingCredentialError reports an absent certificate or key field.
func NewMissingCredentialError(field string) *ConfigError {
	return &ConfigError{
		Kind:   ErrorKindMissingCredential,
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

// NewMissingTrustAnchorError reports a verified-mode configuration with no CA
// source at all.
func NewMissingTrustAnchorError() *ConfigError {
	return &ConfigError{
		Kind:   ErrorKindMissingTrustAnchor,
		Field:  "ca_certificate_file",
		Reason: "verified mode requires a CA certificate file, a CA certificate directory, or a certificate chain file",
	}
}

// NewPathNotFoundError reports a configured path that does not exist.
func NewPathNotFoundError(field, path string) *ConfigError {
	return &ConfigError{
		Kind:   ErrorKindPathNotFound,
		Field:  field,
		Path:   path,
		Reason: fmt.Sprintf("path does not exist: %s", path),
	}
}

// NewInvalidValueError reports a malformed field value.
func NewInvalidValueError(field, reason string) *ConfigError {
	return &ConfigError{
		Kind:   ErrorKindInvalidValue,
		Field:  field,
		Reason: reason,
	}
}

// IsMissingCredential reports whether err is a MissingCredential config error.
func IsMissingCredential(err error) bool {
	return errorKindIs(err, ErrorKindMissingCredential)
}

// IsMissingTrustAnchor reports whether err is a MissingTrustAnchor config error.
func IsMissingTrustAnchor(err error) bool {
	return errorKindIs(err, ErrorKindMissingTrustAnchor)
}

// IsPathNotFound reports whether err is a PathNotFound config error.
func IsPathNotFound(err error) bool {
	return errorKindIs(err, ErrorKindPathNotFound)
}

func errorKindIs(err error, kind ErrorKind) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) && cfgErr.Kind == kind
}
