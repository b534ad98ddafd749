package fileio

import "github.com/joeycumines/ioisolate/result"

// opError is the internal classification an operation's inner func returns;
// withRetry maps it to a result.Kind and decides whether to retry.
type opError struct {
	kind    result.Kind
	message string
	cause   error
}

func (e opError) Error() string { return e.message }

type notFoundErr struct{ path string }

func (e notFoundErr) Error() string { return "not found: " + e.path }

type validationErr struct{ message string }

func (e validationErr) Error() string { return e.message }

type cancelledErr struct{}

func (cancelledErr) Error() string { return "cancelled" }

// classify maps a raw error from an operation's inner func to a result.Kind,
// distinguishing the taxonomy from spec.md §7/§9: Validation and NotFound
// are never retried; everything else not already classified is Transient
// and eligible for backoff.
func classify(err error) opError {
	switch e := err.(type) {
	case opError:
		return e
	case notFoundErr:
		return opError{kind: result.KindNotFound, message: e.Error(), cause: err}
	case validationErr:
		return opError{kind: result.KindValidation, message: e.Error(), cause: err}
	case cancelledErr:
		return opError{kind: result.KindCancelled, message: e.Error(), cause: err}
	default:
		return opError{kind: result.KindTransient, message: "I/O operation failed", cause: err}
	}
}
