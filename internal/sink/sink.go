// Package sink renders PCM frames on an output device. The backend set is
// closed and compile-time selected; an unrecognised backend name fails at
// construction, never mid-playback.
package sink

import (
	"errors"
	"fmt"

	"github.com/satindergrewal/tonearm/internal/audio"
)

var (
	// ErrUnavailable reports a device that is busy, disconnected, or failed
	// to open. It aborts the current play session only.
	ErrUnavailable = errors.New("audio device unavailable")

	// ErrUnknownBackend reports a backend or format selection that does not
	// exist. Construction-time only.
	ErrUnknownBackend = errors.New("unknown sink backend")
)

// Sink is the output-device contract.
type Sink interface {
	// Open acquires the device. Fails with ErrUnavailable when the device
	// cannot be acquired.
	Open() error

	// Write blocks until the device accepts the frame, converting samples
	// with conv to the backend's accepted format. Fails with ErrUnavailable
	// on disconnect.
	Write(f *audio.Frame, conv *audio.Converter) error

	// Close flushes and releases the device. Idempotent.
	Close() error
}

// Config selects and parameterises a backend.
type Config struct {
	Backend string
	Device  string // backend-specific: device name, file path, listen addr
	Format  audio.SampleFormat
}

// New constructs the configured backend. All validation happens here so a
// bad selection is a startup error.
func New(cfg Config) (Sink, error) {
	switch cfg.Backend {
	case "portaudio":
		return newPortAudioSink(cfg.Device, cfg.Format)
	case "speaker":
		return newSpeakerSink(), nil
	case "wav":
		return newWAVSink(cfg.Device, cfg.Format)
	case "pipe":
		return newPipeSink(cfg.Device, cfg.Format), nil
	case "webrtc":
		return newWebRTCSink(cfg.Device), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownBackend, cfg.Backend)
}
