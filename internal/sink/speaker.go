package sink

import (
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/satindergrewal/tonearm/internal/audio"
)

// speakerSink plays through the beep speaker. beep pulls samples from a
// streamer callback, so Write pushes sample groups into a channel the
// callback drains; a full channel is the backpressure that paces the
// pipeline.
type speakerSink struct {
	mu    sync.Mutex
	queue chan [2]float64
	quit  chan struct{}
	open  bool
}

func newSpeakerSink() *speakerSink {
	return &speakerSink{}
}

func (s *speakerSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	sr := beep.SampleRate(audio.SampleRate)
	if err := speaker.Init(sr, sr.N(100*time.Millisecond)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.queue = make(chan [2]float64, audio.FrameSize*4)
	s.quit = make(chan struct{})
	s.open = true
	speaker.Play(beep.StreamerFunc(s.stream))
	return nil
}

// stream runs on the speaker goroutine. It never blocks: when the queue is
// empty it emits silence and lets the device keep running.
func (s *speakerSink) stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		select {
		case g := <-s.queue:
			samples[i] = g
		case <-s.quit:
			return i, false
		default:
			samples[i] = [2]float64{}
		}
	}
	return len(samples), true
}

func (s *speakerSink) Write(f *audio.Frame, _ *audio.Converter) error {
	s.mu.Lock()
	queue, quit, open := s.queue, s.quit, s.open
	s.mu.Unlock()
	if !open {
		return ErrUnavailable
	}

	for i := 0; i+audio.Channels <= len(f.Samples); i += audio.Channels {
		g := [2]float64{f.Samples[i], f.Samples[i+1]}
		select {
		case queue <- g:
		case <-quit:
			return ErrUnavailable
		}
	}
	return nil
}

func (s *speakerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	close(s.quit)
	speaker.Clear()
	return nil
}
