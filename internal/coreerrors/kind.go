// Package coreerrors implements the fault taxonomy of the directory
// processing core: classification of raw errors into a fixed set of
// kinds, the retry/backoff policy attached to each kind, and the
// structured ProcessingError record that flows from a failure site to
// the Error Handler and on into progress messages.
package coreerrors

// Kind is one of the fault categories the core recognizes. Every
// failure surfaced by a pipeline stage is classified into exactly one
// Kind before it is acted on.
type Kind string

const (
	ConfigInvalid         Kind = "ConfigInvalid"
	LockIOError           Kind = "LockIOError"
	AlreadyLocked         Kind = "AlreadyLocked"
	NotOwner              Kind = "NotOwner"
	DirectoryUnavailable  Kind = "DirectoryUnavailable"
	FileIOError           Kind = "FileIOError"
	ParseError            Kind = "ParseError"
	UpstreamUnavailable   Kind = "UpstreamUnavailable"
	UpstreamProtocolError Kind = "UpstreamProtocolError"
	Rejected              Kind = "Rejected"
	PartialFailure        Kind = "PartialFailure"
	HeartbeatTimeout      Kind = "HeartbeatTimeout"
	Cancelled             Kind = "Cancelled"
)

// Retryable reports whether the handler should retry an operation that
// failed with this Kind, per the taxonomy table in SPEC_FULL.md §7.
func (k Kind) Retryable() bool {
	switch k {
	case UpstreamUnavailable, LockIOError, FileIOError:
		return true
	case UpstreamProtocolError:
		// Not in the backoff loop's retryable set: Do retries it once
		// when it occurs on the first attempt, then treats it as
		// permanent.
		return false
	default:
		return false
	}
}

// FileScoped reports whether a failure of this Kind is confined to a
// single file (absorbed by the Chunking Manager / Error Handler without
// ending the Worker's run) or propagates to the Worker.
func (k Kind) FileScoped() bool {
	switch k {
	case FileIOError, ParseError, Rejected, PartialFailure:
		return true
	default:
		return false
	}
}
