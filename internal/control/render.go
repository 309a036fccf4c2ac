package control

import (
	"fmt"

	"scribe/internal/job"
	"scribe/internal/session"
)

const (
	msgProcessing = "Transcription is being processed..."
	msgTimeout    = "Timeout: Transcription took too long"
	msgNoMic      = "Error: Could not access microphone"
)

// Render turns a lifecycle event into the line shown to the user. Events that
// carry nothing new for a human render as "".
func Render(ev session.Event) string {
	switch ev.Phase {
	case session.PhaseRecording:
		return "Recording..."
	case session.PhaseSubmitting:
		return "Uploading recording..."
	case session.PhasePolling:
		if ev.Attempt == 0 {
			return msgProcessing
		}
		return fmt.Sprintf("%s (%.1fs)", msgProcessing, float64(ev.ElapsedMS)/1000)
	case session.PhaseOutcome:
		if ev.Outcome == nil {
			return ""
		}
		return RenderOutcome(*ev.Outcome)
	case session.PhaseIdle:
		switch {
		case ev.Failure == session.FailureCapture:
			return msgNoMic
		case ev.Failure != "":
			return "Error: " + ev.Error
		case ev.Cancelled:
			return "Cancelled"
		}
	}
	return ""
}

// RenderOutcome formats a terminal outcome.
func RenderOutcome(o job.Outcome) string {
	switch o.Kind {
	case job.OutcomeTranscript:
		return o.Transcript
	case job.OutcomeFailed:
		return "Error: " + o.Reason
	case job.OutcomeTimedOut:
		return msgTimeout
	}
	return ""
}
