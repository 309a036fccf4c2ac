package job

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPayload is returned when a recording carries no audio bytes.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrMissingPath is returned when the upload response lacks a path.
	ErrMissingPath = errors.New("upload response missing path")
)

// SubmissionError reports a failed upload or transcription start.
type SubmissionError struct {
	Op         string // "upload" or "transcribe"
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }
