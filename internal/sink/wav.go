package sink

import (
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/satindergrewal/tonearm/internal/audio"
)

// wavSink renders playback into a WAV file, mainly for offline export and
// for verifying the pipeline without a physical device.
type wavSink struct {
	path     string
	format   audio.SampleFormat
	bitDepth int

	f    *os.File
	enc  *wav.Encoder
	ints []int
	open bool
}

func newWAVSink(path string, format audio.SampleFormat) (*wavSink, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: wav backend needs an output path as device", ErrUnknownBackend)
	}
	var depth int
	switch format {
	case audio.FormatS16:
		depth = 16
	case audio.FormatS24:
		depth = 24
	case audio.FormatS32:
		depth = 32
	default:
		return nil, fmt.Errorf("%w: wav backend does not accept format %q", ErrUnknownBackend, format)
	}
	return &wavSink{path: path, format: format, bitDepth: depth}, nil
}

func (s *wavSink) Open() error {
	if s.open {
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.f = f
	s.enc = wav.NewEncoder(f, audio.SampleRate, s.bitDepth, audio.Channels, 1)
	s.ints = make([]int, audio.FrameSamples)
	s.open = true
	return nil
}

func (s *wavSink) Write(f *audio.Frame, conv *audio.Converter) error {
	if !s.open {
		return ErrUnavailable
	}

	n := len(f.Samples)
	if cap(s.ints) < n {
		s.ints = make([]int, n)
	}
	ints := s.ints[:n]
	switch s.format {
	case audio.FormatS16:
		for i, v := range conv.ToS16(f.Samples) {
			ints[i] = int(v)
		}
	case audio.FormatS24:
		for i, v := range conv.ToS24(f.Samples) {
			ints[i] = int(v)
		}
	default:
		for i, v := range conv.ToS32(f.Samples) {
			ints[i] = int(v)
		}
	}

	buf := &gaudio.IntBuffer{
		Data:   ints,
		Format: &gaudio.Format{NumChannels: audio.Channels, SampleRate: audio.SampleRate},
	}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close finalises the WAV header; without it the file is unreadable.
func (s *wavSink) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	err := s.enc.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.enc = nil
	s.f = nil
	return err
}
