package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scribe/internal/job"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// EncodeWAV packs mono 16-bit PCM into a WAV payload.
func EncodeWAV(samples []int16, sampleRate int) (job.Payload, error) {
	if len(samples) == 0 {
		return job.Payload{}, errors.New("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return job.Payload{}, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	var ws writeSeeker
	enc := wav.NewEncoder(&ws, sampleRate, bitDepth, 1, 1)
	if err := enc.Write(buf); err != nil {
		return job.Payload{}, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return job.Payload{}, fmt.Errorf("finalize wav: %w", err)
	}
	return job.Payload{Data: ws.Bytes(), MediaType: MediaType, Filename: Filename}, nil
}

// Info summarizes a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// InspectWAV validates WAV bytes and reports their format.
func InspectWAV(data []byte) (Info, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Info{}, errors.New("not a valid WAV file")
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("wav data chunk: %w", err)
	}
	info := Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	if bytesPerSec := info.SampleRate * info.Channels * info.BitDepth / 8; bytesPerSec > 0 {
		info.Duration = time.Duration(float64(d.PCMLen()) / float64(bytesPerSec) * float64(time.Second))
	}
	return info, nil
}

// mediaTypes maps the extensions the remote service accepts.
var mediaTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// LoadFile reads an audio file from disk as a payload. The content is not
// validated beyond WAV headers; the service decides what it accepts.
func LoadFile(path string) (job.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return job.Payload{}, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	mt, ok := mediaTypes[ext]
	if !ok {
		mt = "application/octet-stream"
	}
	if ext == ".wav" {
		if _, err := InspectWAV(data); err != nil {
			return job.Payload{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	return job.Payload{Data: data, MediaType: mt, Filename: filepath.Base(path)}, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, max(end, 2*cap(w.buf)))
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	w.pos = int(next)
	return next, nil
}

func (w *writeSeeker) Bytes() []byte { return w.buf }
