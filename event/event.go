// Package event defines the unit of work the isolation runtime schedules:
// a typed, prioritized, immutable-by-convention Event carrying an optional
// payload and enough metadata for a worker to process it without consulting
// global state.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of event kinds spec.md §3 enumerates.
type Type string

const (
	TypeAudioIn        Type = "audio-in"
	TypeAudioOut       Type = "audio-out"
	TypeMIDIIn         Type = "midi-in"
	TypeMIDIOut        Type = "midi-out"
	TypeUserInput      Type = "user-input"
	TypeFileRead       Type = "file-read"
	TypeFileWrite      Type = "file-write"
	TypeNetwork        Type = "network"
	TypeTextureShare   Type = "texture-share"
	TypeCacheUpdate    Type = "cache-update"
	TypeMetadataUpdate Type = "metadata-update"
)

// Priority is the scheduling class an Event belongs to. Lower numeric value
// is more urgent; Critical sorts before High before Medium before Low.
type Priority int

const (
	Critical Priority = iota
	High
	Medium
	Low
)

// String renders the Priority the way logs and metrics key by it.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// Flags are the boolean modifiers carried by file-affecting events.
type Flags struct {
	CreateBackup bool
	Overwrite    bool
	Recursive    bool
}

// DefaultMaxRetries and DefaultTimeout are the spec.md §3 defaults applied
// by New when the caller doesn't override them.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
)

// Event is the unit of work scheduled through the priority queue (C2) and
// consumed by a worker (C5). It is immutable after construction except for
// Metadata additions (made only by the owning worker) and the Cancel flag.
type Event struct {
	ID       string
	Type     Type
	Priority Priority

	Payload []byte

	Metadata map[string]string

	SourcePath      string
	DestinationPath string
	SearchPattern   string
	Flags           Flags

	Created    time.Time
	RetryCount int
	MaxRetries int
	Timeout    time.Duration

	cancelled bool
}

// New constructs an Event with a fresh opaque ID, MaxRetries and Timeout set
// to their spec.md defaults, and Created set to now.
func New(typ Type, priority Priority, payload []byte) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Priority:   priority,
		Payload:    payload,
		Metadata:   make(map[string]string),
		Created:    time.Now(),
		MaxRetries: DefaultMaxRetries,
		Timeout:    DefaultTimeout,
	}
}

// SetMetadata records a caller-supplied metadata entry. This is the one
// field mutation a non-owning caller may perform before enqueue; once
// enqueued, only the owning worker should call this.
func (e *Event) SetMetadata(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// Cancel marks the event cancelled. Safe to call more than once.
func (e *Event) Cancel() { e.cancelled = true }

// Cancelled reports whether Cancel has been called.
func (e *Event) Cancelled() bool { return e.cancelled }

// IsRetryable implements the invariant from spec.md §3: an event is
// retryable iff it has retries remaining, was not cancelled, and is still
// within its timeout window measured from creation.
func (e *Event) IsRetryable(now time.Time) bool {
	return e.RetryCount < e.MaxRetries && !e.cancelled && now.Sub(e.Created) <= e.Timeout
}
