package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/satindergrewal/tonearm/internal/audio"
)

// pipeSink streams raw little-endian samples to a file or stdout, for
// piping into external encoders and players (ffmpeg, aplay).
type pipeSink struct {
	path   string
	format audio.SampleFormat
	w      io.Writer
	file   *os.File // nil when writing to stdout
	open   bool
}

func newPipeSink(path string, format audio.SampleFormat) *pipeSink {
	return &pipeSink{path: path, format: format}
}

func (s *pipeSink) Open() error {
	if s.open {
		return nil
	}
	if s.path == "" || s.path == "-" {
		s.w = os.Stdout
	} else {
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.file = f
		s.w = f
	}
	s.open = true
	return nil
}

func (s *pipeSink) Write(f *audio.Frame, conv *audio.Converter) error {
	if !s.open {
		return ErrUnavailable
	}
	if _, err := s.w.Write(conv.Bytes(f.Samples, s.format)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *pipeSink) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
