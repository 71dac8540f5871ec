// Package errorhandler implements the Error Handler of SPEC_FULL.md
// §4.7: the retry/backoff decision each pipeline stage defers to before
// giving up on an operation. It is a thin adapter over
// coreerrors.Do/coreerrors.RetryPolicy (already the classify-then-retry
// primitive this core uses), not a second taxonomy — the Handler's job
// is purely to thread per-file context (path, attempt number) through
// that primitive the way a Worker needs it.
package errorhandler

import (
	"context"
	"time"

	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// FileOp is one attempt at processing a single file. It returns the
// FileResult produced so far (meaningful even on failure, e.g. to
// report the path) and a classified ProcessingError, or a nil error on
// success.
type FileOp func(ctx context.Context, attempt int) (model.FileResult, *coreerrors.ProcessingError)

// Handler retries a FileOp per the configured policy, classifying each
// attempt's failure by the Kind the stage already attached to its
// ProcessingError (chunking, facade, and parser errors are all
// pre-classified at their origin; the Handler does not reclassify).
type Handler struct {
	Policy coreerrors.RetryPolicy
}

func New(policy coreerrors.RetryPolicy) *Handler {
	return &Handler{Policy: policy}
}

// Run executes op, retrying while its Kind is retryable, up to
// Policy.MaxAttempts. It returns the last FileResult produced and the
// last ProcessingError, or (result, nil) on eventual success.
//
// Per §4.7 item 3/4, it is the caller's responsibility to act on a
// permanent failure once Run returns one: compensate and mark the file
// Failed if the error is file-scoped (coreerrors.Kind.FileScoped),
// otherwise propagate and transition the Worker to Failed.
func (h *Handler) Run(ctx context.Context, op FileOp) (model.FileResult, *coreerrors.ProcessingError) {
	var (
		result  model.FileResult
		lastErr *coreerrors.ProcessingError
	)

	classify := func(err error) coreerrors.Kind {
		if pe, ok := err.(*coreerrors.ProcessingError); ok {
			return pe.Kind
		}
		return coreerrors.FileIOError
	}

	doErr := coreerrors.Do(ctx, h.Policy, classify, func(ctx context.Context, attempt int) error {
		r, procErr := op(ctx, attempt)
		result = r
		if procErr == nil {
			lastErr = nil
			return nil
		}
		lastErr = procErr
		return procErr
	})

	if _, fromOp := doErr.(*coreerrors.ProcessingError); doErr != nil && !fromOp {
		// ctx was cancelled while waiting out a backoff delay, before op
		// ran again for that attempt: Do returned ctx.Err(), not op's error.
		lastErr = coreerrors.New(coreerrors.Cancelled, "errorhandler", "", doErr, time.Now())
	}

	return result, lastErr
}
