package player

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/tonearm/internal/audio"
	"github.com/satindergrewal/tonearm/internal/codec"
	"github.com/satindergrewal/tonearm/internal/normaliser"
)

// pipeline is one decode/produce session: fetch, decode, normalise, mix,
// push into the bounded frame buffer. The frames channel is the only shared
// structure between producer and consumer; a full channel suspends the
// producer, which is the pipeline's backpressure.
type pipeline struct {
	trackID string
	frames  chan *audio.Frame
	cancel  context.CancelFunc
	done    chan struct{}

	err      error        // valid after done is closed
	duration atomic.Int64 // track length in ns, 0 until known
}

func (p *Player) startPipeline(trackID string, start time.Duration) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	pl := &pipeline{
		trackID: trackID,
		frames:  make(chan *audio.Frame, p.bufferFrames),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go pl.run(ctx, p, start)
	return pl
}

func (pl *pipeline) run(ctx context.Context, p *Player, start time.Duration) {
	defer close(pl.done)
	defer close(pl.frames)
	if err := pl.produce(ctx, p, start); err != nil && !errors.Is(err, context.Canceled) {
		pl.err = err
	}
}

func (pl *pipeline) produce(ctx context.Context, p *Player, start time.Duration) error {
	track, err := p.provider.Fetch(ctx, pl.trackID)
	if err != nil {
		return err
	}
	defer track.Audio.Close()

	dec, err := codec.New(track.Format, track.Audio)
	if err != nil {
		return err
	}
	defer dec.Close()

	if start > 0 {
		if _, err := dec.Seek(start); err != nil {
			return err
		}
	}

	d := track.Duration
	if d == 0 {
		d = dec.Duration()
	}
	pl.duration.Store(int64(d))

	lim := normaliser.NewLimiter(track.Normalisation, p.norm)

	for {
		// Frames cross the channel, so each gets its own backing slice.
		f := &audio.Frame{Samples: make([]float64, audio.FrameSamples)}
		if err := dec.Decode(f); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		lim.Process(f.Samples)
		p.mixer.Apply(f.Samples)

		select {
		case pl.frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// trackDuration returns the track length, or 0 while still unknown.
func (pl *pipeline) trackDuration() time.Duration {
	return time.Duration(pl.duration.Load())
}

// finished reports whether the produce goroutine has exited. An empty
// buffer after that is the end of the track, not starvation.
func (pl *pipeline) finished() bool {
	select {
	case <-pl.done:
		return true
	default:
		return false
	}
}

// drain cancels the producer and empties the buffer, returning only after
// the produce goroutine has exited and the frames channel is closed and
// empty. After drain the buffer provably holds no residual frames.
func (pl *pipeline) drain() {
	pl.cancel()
	for range pl.frames {
	}
	<-pl.done
}
