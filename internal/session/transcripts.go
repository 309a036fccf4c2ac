package session

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Transcript is one completed transcription kept for status output.
type Transcript struct {
	Text      string    `json:"text" yaml:"text"`
	Handle    string    `json:"handle,omitempty" yaml:"handle,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// transcriptLog keeps the recent tail in memory and appends every entry to a
// file as timestamp, handle and Go-quoted text separated by tabs, one per line.
type transcriptLog struct {
	enabled bool
	path    string
	max     int
	logger  *logrus.Logger

	mu   sync.Mutex
	tail []Transcript
}

func (l *transcriptLog) add(entry Transcript) {
	if !l.enabled {
		return
	}
	l.mu.Lock()
	l.tail = append(l.tail, entry)
	if l.max > 0 && len(l.tail) > l.max {
		l.tail = l.tail[len(l.tail)-l.max:]
	}
	l.mu.Unlock()

	if l.path == "" {
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Warnf("open transcript log: %v", err)
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\t%s\t%q\n", entry.Timestamp.Format(time.RFC3339), entry.Handle, entry.Text); err != nil {
		l.logger.Warnf("write transcript: %v", err)
	}
}

func (l *transcriptLog) snapshot() []Transcript {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transcript, len(l.tail))
	copy(out, l.tail)
	return out
}
