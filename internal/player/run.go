package player

import (
	"context"
	"log"
	"time"

	"github.com/satindergrewal/tonearm/internal/audio"
)

// loop is the control/consume side of the player: it dequeues frames from
// the current pipeline, writes them to the sink, services commands, and
// emits events. All fields are confined to the Run goroutine.
type loop struct {
	p   *Player
	ctx context.Context

	cur  *pipeline // active decode pipeline
	next *pipeline // preloaded pipeline for gapless transition

	loading     bool          // waiting for cur's first frame
	playing     bool          // desired mode; while loading, the mode to enter
	pending     *audio.Frame  // first frame, held while paused
	pos         time.Duration // end of the last delivered frame
	sinkOpen    bool
	delivered   bool // at least one frame written for cur
	starved     bool // underrun warned, not yet recovered
	preloadSent bool // preload hint emitted for cur's track
}

// Run executes the player until ctx is cancelled. It is the single consumer
// of the command channel and the single producer of events; the event
// channel is closed on return.
func (p *Player) Run(ctx context.Context) error {
	l := &loop{p: p, ctx: ctx}
	defer l.teardown()

	for {
		switch {
		case l.cur == nil:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-p.commands:
				l.handle(c)
			}
		case l.loading:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-p.commands:
				l.handle(c)
			case f, ok := <-l.cur.frames:
				l.firstFrame(f, ok)
			}
		case l.playing:
			if l.delivered && !l.starved && len(l.cur.frames) == 0 && !l.cur.finished() {
				l.starved = true
				l.emit(Event{Kind: EventUnderrunWarning, TrackID: l.cur.trackID, Position: l.pos})
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-p.commands:
				l.handle(c)
			case f, ok := <-l.cur.frames:
				l.consume(f, ok)
			}
		default: // paused
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-p.commands:
				l.handle(c)
			}
		}
	}
}

func (l *loop) teardown() {
	if l.cur != nil {
		l.cur.drain()
	}
	if l.next != nil {
		l.next.drain()
	}
	l.closeSink()
	close(l.p.events)
}

// emit blocks until the control layer accepts the event, so ordering is
// preserved and terminal events are never dropped.
func (l *loop) emit(ev Event) {
	select {
	case l.p.events <- ev:
	case <-l.ctx.Done():
	}
}

func (l *loop) handle(c command) {
	switch c.kind {
	case cmdLoad:
		l.load(c.trackID, c.startPlaying, c.position)
	case cmdPlay:
		l.play()
	case cmdPause:
		l.pause()
	case cmdStop:
		l.stop()
	case cmdSeek:
		l.seek(c.position)
	case cmdSetVolume:
		v := l.p.mixer.SetVolume(c.volume)
		l.emit(Event{Kind: EventVolumeChanged, Volume: v})
	case cmdPreload:
		l.preload(c.trackID)
	}
}

func (l *loop) load(trackID string, startPlaying bool, pos time.Duration) {
	if l.cur != nil {
		l.cur.drain()
		l.cur = nil
	}
	l.pending = nil
	l.delivered = false
	l.starved = false
	l.preloadSent = false
	l.playing = startPlaying
	l.loading = true
	l.pos = pos

	l.p.setState(StateLoading, trackID, pos)
	l.emit(Event{Kind: EventLoading, TrackID: trackID, Position: pos})

	// A matching preloaded pipeline already holds decoded frames; reuse it
	// instead of fetching again.
	if l.next != nil && l.next.trackID == trackID && pos == 0 {
		l.cur = l.next
		l.next = nil
		return
	}
	l.cur = l.p.startPipeline(trackID, pos)
}

func (l *loop) play() {
	switch {
	case l.cur == nil || l.playing:
		return
	case l.loading:
		// The sink opens once the first frame is ready.
		l.playing = true
	default:
		if err := l.openSink(); err != nil {
			l.fail(l.cur.trackID, err)
			return
		}
		l.playing = true
		l.p.setState(StatePlaying, l.cur.trackID, l.pos)
		l.emit(Event{Kind: EventPlaying, TrackID: l.cur.trackID, Position: l.pos})
		if l.pending != nil {
			f := l.pending
			l.pending = nil
			l.deliver(f)
		}
	}
}

func (l *loop) pause() {
	if l.cur == nil || !l.playing {
		return
	}
	l.playing = false
	if l.loading {
		return
	}
	l.p.setState(StatePaused, l.cur.trackID, l.pos)
	l.emit(Event{Kind: EventPaused, TrackID: l.cur.trackID, Position: l.pos})
}

func (l *loop) stop() {
	if l.cur != nil {
		l.cur.drain()
		l.cur = nil
	}
	if l.next != nil {
		l.next.drain()
		l.next = nil
	}
	l.pending = nil
	l.loading = false
	l.playing = false
	l.closeSink()
	l.p.setState(StateStopped, "", 0)
	l.emit(Event{Kind: EventStopped})
}

func (l *loop) seek(pos time.Duration) {
	if l.cur == nil {
		return
	}
	trackID := l.cur.trackID
	l.cur.drain()
	l.pending = nil
	l.delivered = false
	l.starved = false
	l.loading = true
	l.pos = pos

	kind := StatePaused
	if l.playing {
		kind = StatePlaying
	}
	l.p.setState(kind, trackID, pos)
	l.cur = l.p.startPipeline(trackID, pos)
}

func (l *loop) preload(trackID string) {
	if l.next != nil {
		if l.next.trackID == trackID {
			return
		}
		l.next.drain()
		l.next = nil
	}
	if l.cur != nil && l.cur.trackID == trackID {
		return
	}
	l.next = l.p.startPipeline(trackID, 0)
}

// firstFrame completes a Load or Seek: the pipeline has produced its first
// frame, so the track is playable and the pending mode takes effect.
func (l *loop) firstFrame(f *audio.Frame, ok bool) {
	if !ok {
		<-l.cur.done
		if l.cur.err != nil {
			l.fail(l.cur.trackID, l.cur.err)
			return
		}
		l.endOfStream() // zero-length track
		return
	}

	l.loading = false
	l.pos = f.Position
	if !l.playing {
		l.pending = f
		l.p.setState(StatePaused, l.cur.trackID, f.Position)
		l.emit(Event{Kind: EventPaused, TrackID: l.cur.trackID, Position: f.Position})
		return
	}

	if err := l.openSink(); err != nil {
		l.fail(l.cur.trackID, err)
		return
	}
	l.p.setState(StatePlaying, l.cur.trackID, f.Position)
	l.emit(Event{Kind: EventPlaying, TrackID: l.cur.trackID, Position: f.Position})
	l.deliver(f)
}

func (l *loop) consume(f *audio.Frame, ok bool) {
	if !ok {
		l.endOfStream()
		return
	}
	if len(l.cur.frames) > 0 {
		l.starved = false
	}
	l.deliver(f)
}

func (l *loop) deliver(f *audio.Frame) {
	if err := l.p.out.Write(f, l.p.conv); err != nil {
		l.fail(l.cur.trackID, err)
		return
	}
	l.delivered = true
	l.pos = f.End()
	l.p.setState(StatePlaying, l.cur.trackID, l.pos)
	l.preloadHint()
}

// preloadHint fires once per track, when the remaining decoded duration
// first drops below the configured threshold.
func (l *loop) preloadHint() {
	if l.preloadSent || l.p.preloadThreshold <= 0 {
		return
	}
	d := l.cur.trackDuration()
	if d <= 0 || d-l.pos > l.p.preloadThreshold {
		return
	}
	l.preloadSent = true
	l.emit(Event{Kind: EventTimeToPreloadNextTrack, TrackID: l.cur.trackID, Position: l.pos})
}

// endOfStream handles natural decode completion: switch to the preloaded
// pipeline if one is queued, otherwise wind the session down.
func (l *loop) endOfStream() {
	<-l.cur.done
	if l.cur.err != nil {
		l.fail(l.cur.trackID, l.cur.err)
		return
	}
	ended := l.cur.trackID
	l.p.setState(StateEndOfTrack, ended, l.pos)

	if l.next != nil && l.playing {
		// Gapless transition: the sink stays open and the preloaded
		// pipeline takes over immediately.
		l.cur = l.next
		l.next = nil
		l.loading = true
		l.delivered = false
		l.starved = false
		l.preloadSent = false
		l.pos = 0
		l.emit(Event{Kind: EventEndOfTrack, TrackID: ended})
		return
	}

	l.cur = nil
	l.loading = false
	l.playing = false
	l.closeSink()
	l.emit(Event{Kind: EventEndOfTrack, TrackID: ended})
	l.p.setState(StateStopped, "", 0)
	l.emit(Event{Kind: EventStopped})
}

// fail aborts the current play session. The player stays usable: the next
// Load starts clean.
func (l *loop) fail(trackID string, err error) {
	log.Printf("player: track %s: %v", trackID, err)
	if l.cur != nil {
		l.cur.drain()
		l.cur = nil
	}
	if l.next != nil {
		l.next.drain()
		l.next = nil
	}
	l.pending = nil
	l.loading = false
	l.playing = false
	l.closeSink()
	l.emit(Event{Kind: EventUnavailable, TrackID: trackID})
	l.p.setState(StateStopped, "", 0)
	l.emit(Event{Kind: EventStopped})
}

func (l *loop) openSink() error {
	if l.sinkOpen {
		return nil
	}
	if err := l.p.out.Open(); err != nil {
		return err
	}
	l.sinkOpen = true
	return nil
}

func (l *loop) closeSink() {
	if !l.sinkOpen {
		return
	}
	if err := l.p.out.Close(); err != nil {
		log.Printf("player: sink close: %v", err)
	}
	l.sinkOpen = false
}
