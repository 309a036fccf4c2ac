package session

import (
	"sync"
	"time"

	"scribe/internal/job"
)

// Phase is the lifecycle position shown to the user.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRecording  Phase = "recording"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseOutcome    Phase = "outcome"
)

// Failure classifies errors that end a run without an outcome.
type Failure string

const (
	FailureCapture    Failure = "capture"
	FailureSubmission Failure = "submission"
)

// Event is one sequenced lifecycle change.
type Event struct {
	Seq       int64        `json:"seq" yaml:"seq"`
	Timestamp time.Time    `json:"timestamp" yaml:"timestamp"`
	RunID     string       `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Phase     Phase        `json:"phase" yaml:"phase"`
	Handle    string       `json:"handle,omitempty" yaml:"handle,omitempty"`
	Attempt   int          `json:"attempt,omitempty" yaml:"attempt,omitempty"`
	ElapsedMS int64        `json:"elapsed_ms,omitempty" yaml:"elapsed_ms,omitempty"`
	Outcome   *job.Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Failure   Failure      `json:"failure,omitempty" yaml:"failure,omitempty"`
	Error     string       `json:"error,omitempty" yaml:"error,omitempty"`
	Cancelled bool         `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// EventBus keeps a bounded window of recent events for incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a buffer holding at most maxEvents events.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish assigns the next sequence number and stores the event.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	return event
}

// Since returns buffered events with a sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	events, _ := b.Read(seq)
	return events
}

// Read returns the events after seq together with the newest sequence
// number, both taken under one lock so a reader resuming from last never
// skips an event.
func (b *EventBus) Read(seq int64) ([]Event, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out, b.nextSeq
}

// LastSeq is the sequence number of the newest event, or 0.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
