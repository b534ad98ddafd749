package fileio

import (
	"context"
	"errors"
	"time"

	"github.com/joeycumines/ioisolate/result"
)

// withRetry runs fn, retrying on Transient classification with exponential
// backoff (spec.md §4.2) up to maxAttempts total tries. Validation,
// NotFound, and Cancelled never retry. Returns nil on success.
func (e *Engine) withRetry(ctx context.Context, opID string, start time.Time, maxAttempts int, fn func() error) *opError {
	backoff := e.cfg.InitialBackoff
	var last opError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c := opError{kind: result.KindCancelled, message: "operation cancelled", cause: ctx.Err()}
			return &c
		}

		last = classify(err)
		if last.kind != result.KindTransient || attempt == maxAttempts {
			break
		}

		e.log.Warning().Str(`op_id`, opID).Int(`attempt`, attempt).Err(last).Log(`file operation failed, retrying`)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c := opError{kind: result.KindCancelled, message: "operation cancelled during backoff", cause: ctx.Err()}
			return &c
		}
		backoff = time.Duration(float64(backoff) * e.cfg.BackoffFactor)
	}

	// distinct from the retry log above: this is the terminal failure.
	e.log.Err().Str(`op_id`, opID).Log(alertMessage(last))
	return &last
}

func alertMessage(e opError) string {
	return "file operation failed: " + e.message
}
