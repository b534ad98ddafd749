// Package telemetry wires structured logging for the isolation runtime,
// using logiface as the facade and stumpy as the concrete JSON backend, the
// same split the wider corpus uses to give logiface a writer.
package telemetry

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type accepted by every component
// constructor in this repository.
type Logger = logiface.Logger[*stumpy.Event]

// New builds a Logger writing newline-delimited JSON to w. A nil w defaults
// to os.Stderr.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	)
}

// Disabled returns a Logger that discards everything, for components
// constructed without an explicit Logger.
func Disabled() *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(io.Discard)), stumpy.L.WithLevel(stumpy.L.LevelDisabled()))
}

// OrDisabled returns l if non-nil, else a disabled Logger. Components should
// call this once at construction time rather than nil-checking on every log
// call.
func OrDisabled(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Disabled()
}
