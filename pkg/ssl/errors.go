package ssl

import (
	"errors"
	"fmt"
)

// ErrorKind narrows the engine's native status space down to the conditions a
// caller can act on.
type ErrorKind string

const (
	// KindWouldBlock is retried internally and never surfaces to callers.
	KindWouldBlock ErrorKind = "would_block"

	// KindClosedGracefully signals an orderly peer shutdown. Not fatal: Recv
	// translates it into a zero-byte result.
	KindClosedGracefully ErrorKind = "closed_gracefully"

	// KindClosedAbort signals a reset connection. Fatal to the session.
	KindClosedAbort ErrorKind = "closed_abort"

	// KindNegotiationFailed covers protocol-level handshake failures:
	// version mismatch, no common cipher, malformed records.
	KindNegotiationFailed ErrorKind = "negotiation_failed"

	// KindPeerUnknownCA means the peer's certificate chains to an authority
	// this endpoint does not trust.
	KindPeerUnknownCA ErrorKind = "peer_unknown_ca"

	// KindBadRecordMac means record integrity verification failed.
	KindBadRecordMac ErrorKind = "bad_record_mac"

	// KindParamError covers misuse: operations in the wrong phase, unknown
	// engine backends, invalid cipher names.
	KindParamError ErrorKind = "param_error"

	// KindAuthFailed means certificate-based authentication of the peer
	// failed for a reason other than an unknown CA.
	KindAuthFailed ErrorKind = "auth_failed"

	// KindIOError covers socket-level failures and exceeded deadlines.
	KindIOError ErrorKind = "io_error"

	// KindMissingPassword means a PKCS#12 identity source was configured
	// without the password needed to decrypt it.
	KindMissingPassword ErrorKind = "missing_password"

	// KindImportFailed means identity material could not be loaded: bad
	// password, corrupt bundle, mismatched key, unparseable PEM.
	KindImportFailed ErrorKind = "import_failed"
)

// Numeric codes attached to errors so callers and logs retain the native
// status value alongside the symbolic kind.
const (
	CodeWouldBlock        = -1
	CodeClosedGracefully  = -2
	CodeClosedAbort       = -3
	CodeNegotiationFailed = -10
	CodePeerUnknownCA     = -11
	CodeBadRecordMac      = -12
	CodeParamError        = -13
	CodeAuthFailed        = -14
	CodeIOError           = -15
	CodeMissingPassword   = -20
	CodeImportFailed      = -21
)

var kindCodes = map[ErrorKind]int{
	KindWouldBlock:        CodeWouldBlock,
	KindClosedGracefully:  CodeClosedGracefully,
	KindClosedAbort:       CodeClosedAbort,
	KindNegotiationFailed: CodeNegotiationFailed,
	KindPeerUnknownCA:     CodePeerUnknownCA,
	KindBadRecordMac:      CodeBadRecordMac,
	KindParamError:        CodeParamError,
	KindAuthFailed:        CodeAuthFailed,
	KindIOError:           CodeIOError,
	KindMissingPassword:   CodeMissingPassword,
	KindImportFailed:      CodeImportFailed,
}

// Error is a session-layer error: a symbolic kind, the numeric code, a
// human-readable reason, and the originating error when one exists.
type Error struct {
	Kind   ErrorKind
	Code   int
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (code %d) | cause: %v", e.Kind, e.Reason, e.Code, e.Cause)
	}
	return fmt.Sprintf("[%s] %s (code %d)", e.Kind, e.Reason, e.Code)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an error of the given kind with its canonical code.
func NewError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Code: kindCodes[kind], Reason: reason}
}

// NewErrorWithCause creates an error of the given kind wrapping its origin.
func NewErrorWithCause(kind ErrorKind, reason string, cause error) *Error {
	return &Error{Kind: kind, Code: kindCodes[kind], Reason: reason, Cause: cause}
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var sslErr *Error
	if errors.As(err, &sslErr) {
		return sslErr, true
	}
	return nil, false
}

// IsWouldBlock reports whether err is the retryable would-block condition.
func IsWouldBlock(err error) bool {
	return kindIs(err, KindWouldBlock)
}

// IsClosedGracefully reports whether err signals an orderly peer shutdown.
func IsClosedGracefully(err error) bool {
	return kindIs(err, KindClosedGracefully)
}

// IsClosedAbort reports whether err signals a reset connection.
func IsClosedAbort(err error) bool {
	return kindIs(err, KindClosedAbort)
}

// IsFatal reports whether err ends the session. WouldBlock and
// ClosedGracefully are the only non-fatal conditions.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !IsWouldBlock(err) && !IsClosedGracefully(err)
}

func kindIs(err error, kind ErrorKind) bool {
	var sslErr *Error
	return errors.As(err, &sslErr) && sslErr.Kind == kind
}
