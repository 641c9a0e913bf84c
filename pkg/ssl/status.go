package ssl

// Status is the narrow outcome space the I/O bridge reports to the engine.
// It is the local translation of raw socket results: the engine never sees an
// errno, only one of these.
type Status int

const (
	// StatusOK means the requested I/O completed in full.
	StatusOK Status = iota

	// StatusWouldBlock means the I/O could not complete immediately and must
	// be retried once the descriptor is ready. Not an error; partial data may
	// accompany it on reads.
	StatusWouldBlock

	// StatusClosedGracefully means the peer performed an orderly shutdown.
	StatusClosedGracefully

	// StatusClosedAbort means the connection was reset by the peer.
	StatusClosedAbort

	// StatusIOError covers every other socket-level failure.
	StatusIOError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWouldBlock:
		return "would_block"
	case StatusClosedGracefully:
		return "closed_gracefully"
	case StatusClosedAbort:
		return "closed_abort"
	case StatusIOError:
		return "io_error"
	default:
		return "unknown"
	}
}
