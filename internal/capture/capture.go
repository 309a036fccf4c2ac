// Package capture records audio from a local input device and hands it over
// as a WAV payload.
package capture

import (
	"context"
	"fmt"
	"time"

	"scribe/internal/config"
	"scribe/internal/job"

	"github.com/sirupsen/logrus"
)

// MediaType is the type declared for every captured payload.
const MediaType = "audio/wav"

// Filename is the name recordings are uploaded under.
const Filename = "recording.wav"

// CaptureError reports that the device is unavailable or access was denied.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture %s: %v", e.Op, e.Err) }

func (e *CaptureError) Unwrap() error { return e.Err }

// Capturer opens a recording stream.
type Capturer interface {
	Start(ctx context.Context) (Stream, error)
}

// Stream is an in-progress recording.
type Stream interface {
	// Stop ends the recording and returns the captured audio. It may be
	// called once.
	Stop() (job.Payload, error)
	// Done is closed when the stream ended on its own: trailing silence,
	// the maximum duration, or a device error.
	Done() <-chan struct{}
}

// Device describes an input device.
type Device struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Channels  int     `json:"channels"`
	LatencyMs float64 `json:"latency_ms"`
	Default   bool    `json:"default"`
}

// Options are the capture parameters drawn from config.
type Options struct {
	DeviceName     string
	SampleRate     int
	Channels       int
	FrameMS        int
	MaxDuration    time.Duration
	StopOnSilence  bool
	Silence        time.Duration
	MinSpeech      time.Duration
	Aggressiveness int
}

// OptionsFromConfig maps the audio and vad sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DeviceName:     cfg.Audio.DeviceName,
		SampleRate:     cfg.Audio.SampleRate,
		Channels:       cfg.Audio.Channels,
		FrameMS:        cfg.Audio.FrameMS,
		MaxDuration:    cfg.MaxRecording(),
		StopOnSilence:  cfg.VAD.Enabled,
		Silence:        time.Duration(cfg.VAD.SilenceMS) * time.Millisecond,
		MinSpeech:      time.Duration(cfg.VAD.MinSpeechMS) * time.Millisecond,
		Aggressiveness: cfg.VAD.Aggressiveness,
	}
}

func (o Options) validate() error {
	if o.Channels != 1 {
		return fmt.Errorf("only mono input supported; set audio.channels = 1")
	}
	if o.FrameMS != 10 && o.FrameMS != 20 && o.FrameMS != 30 {
		return fmt.Errorf("audio.frame_ms must be 10, 20, or 30 (got %d)", o.FrameMS)
	}
	switch o.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("sample_rate must be 8k/16k/32k/48k (got %d)", o.SampleRate)
	}
	return nil
}

// New returns the capturer for this build.
func New(cfg *config.Config, logger *logrus.Logger) (Capturer, error) {
	opts := OptionsFromConfig(cfg)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return newDeviceCapturer(opts, logger), nil
}
