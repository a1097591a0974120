package sink

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/satindergrewal/tonearm/internal/audio"
)

// portAudioSink plays through PortAudio. The registered stream buffer is
// typed by the configured sample format; PortAudio performs the final
// hardware conversion.
type portAudioSink struct {
	device string
	format audio.SampleFormat

	stream *portaudio.Stream
	s16    []int16
	s32    []int32
	f32    []float32
	open   bool
}

func newPortAudioSink(device string, format audio.SampleFormat) (*portAudioSink, error) {
	switch format {
	case audio.FormatS16, audio.FormatS32, audio.FormatF32:
	default:
		return nil, fmt.Errorf("%w: portaudio backend does not accept format %q", ErrUnknownBackend, format)
	}
	return &portAudioSink{device: device, format: format}, nil
}

func (s *portAudioSink) Open() error {
	if s.open {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var buf any
	switch s.format {
	case audio.FormatS16:
		s.s16 = make([]int16, audio.FrameSamples)
		buf = s.s16
	case audio.FormatS32:
		s.s32 = make([]int32, audio.FrameSamples)
		buf = s.s32
	default:
		s.f32 = make([]float32, audio.FrameSamples)
		buf = s.f32
	}

	stream, err := s.openStream(buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.stream = stream
	s.open = true
	return nil
}

func (s *portAudioSink) openStream(buf any) (*portaudio.Stream, error) {
	if s.device == "" {
		return portaudio.OpenDefaultStream(
			0, audio.Channels, float64(audio.SampleRate), audio.FrameSize, buf)
	}

	dev, err := s.findDevice()
	if err != nil {
		return nil, err
	}
	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = audio.Channels
	params.SampleRate = float64(audio.SampleRate)
	params.FramesPerBuffer = audio.FrameSize
	return portaudio.OpenStream(params, buf)
}

func (s *portAudioSink) findDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.MaxOutputChannels >= audio.Channels &&
			strings.Contains(strings.ToLower(d.Name), strings.ToLower(s.device)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no output device matching %q", s.device)
}

func (s *portAudioSink) Write(f *audio.Frame, conv *audio.Converter) error {
	if !s.open {
		return ErrUnavailable
	}

	// The registered buffer is a full frame; pad a short final frame with
	// silence rather than tearing the stream.
	switch s.format {
	case audio.FormatS16:
		n := copy(s.s16, conv.ToS16(f.Samples))
		zero16(s.s16[n:])
	case audio.FormatS32:
		n := copy(s.s32, conv.ToS32(f.Samples))
		zero32(s.s32[n:])
	default:
		n := copy(s.f32, conv.ToF32(f.Samples))
		zerof32(s.f32[n:])
	}

	if err := s.stream.Write(); err != nil {
		if err == portaudio.OutputUnderflowed {
			return nil // device glitch, stream keeps running
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *portAudioSink) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	s.stream.Stop()
	err := s.stream.Close()
	portaudio.Terminate()
	s.stream = nil
	return err
}

func zero16(b []int16) {
	for i := range b {
		b[i] = 0
	}
}

func zero32(b []int32) {
	for i := range b {
		b[i] = 0
	}
}

func zerof32(b []float32) {
	for i := range b {
		b[i] = 0
	}
}
