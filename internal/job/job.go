// Package job submits recordings to the remote transcription service and
// follows the resulting job until it completes, fails, or runs out of budget.
package job

import (
	"fmt"
	"strings"
	"time"
)

// Payload is a captured recording ready for upload.
type Payload struct {
	Data      []byte
	MediaType string
	Filename  string
}

// Handle names a unit of work on the remote service. It is the path returned
// by the upload call and is opaque to the client.
type Handle string

// State is the status value reported by the remote service.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Status is the result of one status query.
type Status struct {
	State      State
	Transcript string
	Message    string
}

// OutcomeKind classifies the terminal result of a polling run.
type OutcomeKind string

const (
	OutcomeTranscript OutcomeKind = "transcript"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeTimedOut   OutcomeKind = "timed_out"
)

// Outcome is the single terminal result of a polling run.
type Outcome struct {
	Kind       OutcomeKind   `json:"kind" yaml:"kind"`
	Transcript string        `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Reason     string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Attempts   int           `json:"attempts" yaml:"attempts"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeTranscript:
		return fmt.Sprintf("transcript(%q)", o.Transcript)
	case OutcomeFailed:
		return fmt.Sprintf("failed(%s)", o.Reason)
	case OutcomeTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Budget bounds a polling run.
type Budget struct {
	MaxAttempts int
	Backoff     Backoff
}

// DefaultBudget returns 60 attempts with delays growing from 500ms by 1.2x up
// to 2s.
func DefaultBudget() Budget {
	return Budget{
		MaxAttempts: 60,
		Backoff: Backoff{
			Initial: 500 * time.Millisecond,
			Factor:  1.2,
			Max:     2 * time.Second,
		},
	}
}

// Validate reports whether the budget can drive a terminating schedule.
func (b Budget) Validate() error {
	var problems []string
	if b.MaxAttempts <= 0 {
		problems = append(problems, fmt.Sprintf("max attempts must be positive (got %d)", b.MaxAttempts))
	}
	if b.Backoff.Initial <= 0 {
		problems = append(problems, fmt.Sprintf("initial delay must be positive (got %s)", b.Backoff.Initial))
	}
	if b.Backoff.Max < b.Backoff.Initial {
		problems = append(problems, fmt.Sprintf("max delay %s is below initial delay %s", b.Backoff.Max, b.Backoff.Initial))
	}
	if b.Backoff.Factor < 1 {
		problems = append(problems, fmt.Sprintf("growth factor must be >= 1 (got %g)", b.Backoff.Factor))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid poll budget: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Progress describes one status query for observers.
type Progress struct {
	Handle  Handle
	Attempt int
	Elapsed time.Duration
	Delay   time.Duration
	State   State
}
