//go:build portaudio

package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"scribe/internal/job"

	"github.com/gordonklaus/portaudio"
	vad "github.com/maxhawkins/go-webrtcvad"
	"github.com/sirupsen/logrus"
)

// Available reports whether this build can open a device.
const Available = true

var errAlreadyStopped = errors.New("stream already stopped")

type deviceCapturer struct {
	opts   Options
	logger *logrus.Logger
}

func newDeviceCapturer(opts Options, logger *logrus.Logger) Capturer {
	return &deviceCapturer{opts: opts, logger: logger}
}

type deviceStream struct {
	opts   Options
	logger *logrus.Logger
	stream *portaudio.Stream
	frame  []int16

	mu      sync.Mutex
	samples []int16
	readErr error

	done     chan struct{}
	doneOnce sync.Once
	stopped  chan struct{}
	stopOnce sync.Once
	loopWG   sync.WaitGroup
}

func (c *deviceCapturer) Start(ctx context.Context) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &CaptureError{Op: "init", Err: err}
	}
	dev, err := SelectDevice(c.opts.DeviceName)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &CaptureError{Op: "device", Err: err}
	}

	frameSamples := c.opts.SampleRate * c.opts.FrameMS / 1000
	s := &deviceStream{
		opts:    c.opts,
		logger:  c.logger,
		frame:   make([]int16, frameSamples),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: c.opts.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.opts.SampleRate),
		FramesPerBuffer: frameSamples,
	}, &s.frame)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &CaptureError{Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, &CaptureError{Op: "start", Err: err}
	}
	s.stream = stream

	var detector *vad.VAD
	if c.opts.StopOnSilence {
		detector, err = newDetector(c.opts)
		if err != nil {
			c.logger.Warnf("silence detection disabled: %v", err)
		}
	}

	c.logger.Infof("recording from mic: %s @ %d Hz", dev.Name, c.opts.SampleRate)
	s.loopWG.Add(1)
	go s.readLoop(ctx, detector)
	return s, nil
}

func newDetector(opts Options) (*vad.VAD, error) {
	frameSamples := opts.SampleRate * opts.FrameMS / 1000
	if !vad.ValidRateAndFrameLength(opts.SampleRate, frameSamples) {
		return nil, fmt.Errorf("invalid frame_ms %d for sample_rate %d", opts.FrameMS, opts.SampleRate)
	}
	v, err := vad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(opts.Aggressiveness); err != nil {
		return nil, fmt.Errorf("vad mode: %w", err)
	}
	return v, nil
}

func (s *deviceStream) readLoop(ctx context.Context, detector *vad.VAD) {
	defer s.loopWG.Done()
	started := time.Now()
	var (
		heardSpeech bool
		speechFor   time.Duration
		lastVoice   time.Time
		frameDur    = time.Duration(s.opts.FrameMS) * time.Millisecond
		raw         = make([]byte, len(s.frame)*2)
	)
	for {
		select {
		case <-ctx.Done():
			s.finish(nil)
			return
		case <-s.stopped:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.logger.Warn("input overflow")
				continue
			}
			s.finish(fmt.Errorf("stream read: %w", err))
			return
		}
		s.mu.Lock()
		s.samples = append(s.samples, s.frame...)
		s.mu.Unlock()

		if s.opts.MaxDuration > 0 && time.Since(started) >= s.opts.MaxDuration {
			s.logger.Infof("recording reached max duration %s", s.opts.MaxDuration)
			s.finish(nil)
			return
		}
		if detector == nil {
			continue
		}
		for i, v := range s.frame {
			binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
		}
		voice, err := detector.Process(s.opts.SampleRate, raw)
		if err != nil {
			s.logger.Debugf("vad: %v", err)
			continue
		}
		now := time.Now()
		if voice {
			speechFor += frameDur
			lastVoice = now
			if speechFor >= s.opts.MinSpeech {
				heardSpeech = true
			}
			continue
		}
		if heardSpeech && now.Sub(lastVoice) >= s.opts.Silence {
			s.logger.Debug("trailing silence detected, stopping")
			s.finish(nil)
			return
		}
	}
}

func (s *deviceStream) finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.readErr = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *deviceStream) Done() <-chan struct{} { return s.done }

func (s *deviceStream) Stop() (job.Payload, error) {
	var payload job.Payload
	stopErr := errAlreadyStopped
	s.stopOnce.Do(func() {
		stopErr = nil
		close(s.stopped)
		s.loopWG.Wait()
		s.finish(nil)
		_ = s.stream.Stop()
		_ = s.stream.Close()
		_ = portaudio.Terminate()

		s.mu.Lock()
		samples := s.samples
		readErr := s.readErr
		s.mu.Unlock()
		if readErr != nil {
			stopErr = &CaptureError{Op: "read", Err: readErr}
			return
		}
		if len(samples) == 0 {
			stopErr = &CaptureError{Op: "stop", Err: errors.New("no audio captured")}
			return
		}
		payload, stopErr = EncodeWAV(samples, s.opts.SampleRate)
	})
	return payload, stopErr
}

// ListDevices enumerates input devices.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &CaptureError{Op: "init", Err: err}
	}
	defer func() { _ = portaudio.Terminate() }()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()
	out := []Device{}
	for i, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			Index:     i,
			Name:      d.Name,
			Channels:  d.MaxInputChannels,
			LatencyMs: d.DefaultLowInputLatency.Seconds() * 1000,
			Default:   def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// SelectDevice returns the first input device whose name contains preferred,
// falling back to the system default. Call between Initialize and Terminate.
func SelectDevice(preferred string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if preferred != "" {
		for _, d := range devs {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred)) {
				return d, nil
			}
		}
	}
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		return def, nil
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input devices found")
}

// Probe initializes and terminates PortAudio once.
func Probe() error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
