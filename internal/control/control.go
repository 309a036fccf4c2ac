package control

import "scribe/internal/session"

// Request is one line of JSON sent over the control socket.
type Request struct {
	Op    string `json:"op"`
	Since int64  `json:"since,omitempty"`
}

type Status struct {
	Running     bool                 `json:"running" yaml:"running"`
	UptimeSec   float64              `json:"uptime_sec" yaml:"uptime_sec"`
	Session     session.Snapshot     `json:"session" yaml:"session"`
	Transcripts []session.Transcript `json:"transcripts" yaml:"transcripts"`
}

type SimpleResponse struct {
	OK      bool          `json:"ok"`
	Message string        `json:"message"`
	Phase   session.Phase `json:"phase,omitempty"`
}

type EventsResponse struct {
	Events  []session.Event `json:"events"`
	LastSeq int64           `json:"last_seq"`
}
