package coreerrors

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// Classifier maps a raw error encountered at some stage to a Kind. It
// mirrors the teacher's storage.ErrorClassifier: a small set of string/
// type sniffing helpers, because the upstream JSON-RPC client and the
// filesystem calls this core makes don't share a common error type.
type Classifier struct {
	// Stage is recorded on every ProcessingError this classifier
	// produces, e.g. "scan", "parse", "commit".
	Stage string
}

// NewClassifier returns a Classifier tagging errors with the given
// stage name.
func NewClassifier(stage string) *Classifier {
	return &Classifier{Stage: stage}
}

// Classify inspects err and returns the Kind it belongs to. A nil error
// classifies to "" and should never be passed to New.
func (c *Classifier) Classify(err error) Kind {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return FileIOError
	case isTimeoutErr(err), isConnectionErr(err):
		return UpstreamUnavailable
	case isProtocolErr(err):
		return UpstreamProtocolError
	default:
		return FileIOError
	}
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isConnectionErr(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "no such host", "eof", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isProtocolErr(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"invalid character", "unexpected end of json", "malformed", "unmarshal", "jsonrpc"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
