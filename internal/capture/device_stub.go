//go:build !portaudio

package capture

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Available reports whether this build can open a device.
const Available = false

var errNoPortAudio = errors.New("built without PortAudio; rebuild with '-tags portaudio'")

type stubCapturer struct{}

func newDeviceCapturer(Options, *logrus.Logger) Capturer { return stubCapturer{} }

func (stubCapturer) Start(context.Context) (Stream, error) {
	return nil, &CaptureError{Op: "init", Err: errNoPortAudio}
}

// ListDevices enumerates input devices.
func ListDevices() ([]Device, error) {
	return nil, &CaptureError{Op: "list", Err: errNoPortAudio}
}

// Probe initializes and terminates PortAudio once.
func Probe() error { return errNoPortAudio }
