package player

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/tonearm/internal/audio"
	"github.com/satindergrewal/tonearm/internal/codec"
	"github.com/satindergrewal/tonearm/internal/mixer"
	"github.com/satindergrewal/tonearm/internal/normaliser"
	"github.com/satindergrewal/tonearm/internal/source"
)

// pcmTrack builds raw s16le PCM of the given frame count where every sample
// has the same value, so residual frames from another track are detectable.
func pcmTrack(frames int, value float64) []byte {
	s := uint16(int16(value * 32767))
	buf := make([]byte, frames*audio.FrameSamples*2)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], s)
	}
	return buf
}

type fakeTrack struct {
	data     []byte
	duration time.Duration
	slow     time.Duration // per-read delay, simulating a stalling source
}

type fakeProvider struct {
	mu      sync.Mutex
	tracks  map[string]fakeTrack
	fetches map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{tracks: make(map[string]fakeTrack), fetches: make(map[string]int)}
}

func (p *fakeProvider) add(id string, frames int, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks[id] = fakeTrack{
		data:     pcmTrack(frames, value),
		duration: time.Duration(frames) * audio.FrameDuration,
	}
}

func (p *fakeProvider) Fetch(_ context.Context, id string) (*source.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.tracks[id]
	if !ok {
		return nil, source.ErrNotFound
	}
	p.fetches[id]++
	var r io.Reader = bytes.NewReader(tr.data)
	if tr.slow > 0 {
		r = &slowReader{r: r, delay: tr.slow}
	}
	return &source.Track{
		ID:       id,
		Audio:    io.NopCloser(r),
		Format:   codec.FormatPCM,
		Duration: tr.duration,
	}, nil
}

func (p *fakeProvider) fetchCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches[id]
}

type slowReader struct {
	r     io.Reader
	delay time.Duration
}

func (s *slowReader) Read(b []byte) (int, error) {
	time.Sleep(s.delay)
	return s.r.Read(b)
}

// fakeSink records every delivered frame. A non-zero delay paces writes
// like a real device; a non-nil gate makes each Write block until the test
// sends a token.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]float64
	opens  int
	closes int
	delay  time.Duration
	gate   chan struct{}
}

func (s *fakeSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	return nil
}

func (s *fakeSink) Write(f *audio.Frame, _ *audio.Converter) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]float64(nil), f.Samples...))
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) counts() (opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

func (s *fakeSink) allSamplesNear(value float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		for _, v := range f {
			if math.Abs(v-value) > 1e-3 {
				return false
			}
		}
	}
	return true
}

func testConfig(preload time.Duration) Config {
	return Config{
		BufferFrames:     4,
		PreloadThreshold: preload,
		EventBuffer:      64,
		Normalisation: normaliser.Config{
			Enabled:    false,
			Threshold:  1,
			Attack:     5 * time.Millisecond,
			Release:    100 * time.Millisecond,
			SampleRate: audio.SampleRate,
		},
	}
}

func startPlayer(t *testing.T, prov source.Provider, out *fakeSink, cfg Config) *Player {
	t.Helper()
	mix := mixer.New(mixer.CurveFixed, 60, mixer.MaxVolume)
	p := New(cfg, prov, out, mix)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		for range p.Events() {
		}
		<-done
	})
	return p
}

// waitEvent discards events until one of the wanted kind arrives.
func waitEvent(t *testing.T, p *Player, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// collectUntil gathers events, minus underrun warnings, through the first
// event of the terminal kind.
func collectUntil(t *testing.T, p *Player, terminal EventKind) []Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var got []Event
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", terminal)
			}
			if ev.Kind == EventUnderrunWarning {
				continue
			}
			got = append(got, ev)
			if ev.Kind == terminal {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, got %v", terminal, got)
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestPlayToEnd(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 5, 0.25)
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("a", true, 0)
	got := collectUntil(t, p, EventStopped)

	want := []EventKind{EventLoading, EventPlaying, EventEndOfTrack, EventStopped}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", kinds(got), want)
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Fatalf("events = %v, want %v", kinds(got), want)
		}
	}

	if n := out.frameCount(); n != 5 {
		t.Errorf("sink received %d frames, want 5", n)
	}
	if !out.allSamplesNear(0.25) {
		t.Error("sink samples deviate from the decoded track")
	}
	opens, closes := out.counts()
	if opens != 1 || closes != 1 {
		t.Errorf("sink opens/closes = %d/%d, want 1/1", opens, closes)
	}
	if s := p.State(); s.Kind != StateStopped {
		t.Errorf("final state = %v, want stopped", s.Kind)
	}
}

func TestLoadPausedThenPlay(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 3, 0.25)
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("a", false, 0)
	ev := waitEvent(t, p, EventPaused)
	if ev.TrackID != "a" || ev.Position != 0 {
		t.Fatalf("paused event = %+v, want track a at 0", ev)
	}
	if n := out.frameCount(); n != 0 {
		t.Fatalf("sink received %d frames while paused, want 0", n)
	}
	if s := p.State(); s.Kind != StatePaused {
		t.Fatalf("state = %v, want paused", s.Kind)
	}

	p.Play()
	waitEvent(t, p, EventPlaying)
	waitEvent(t, p, EventEndOfTrack)
	if n := out.frameCount(); n != 3 {
		t.Errorf("sink received %d frames, want 3", n)
	}
}

func TestPauseResumeKeepsPosition(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 200, 0.25)
	out := &fakeSink{delay: time.Millisecond}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("a", true, 0)
	waitEvent(t, p, EventPlaying)

	p.Pause()
	paused := waitEvent(t, p, EventPaused)

	p.Play()
	resumed := waitEvent(t, p, EventPlaying)
	if resumed.Position != paused.Position {
		t.Errorf("resumed at %v, paused at %v, want identical", resumed.Position, paused.Position)
	}
	p.Stop()
	waitEvent(t, p, EventStopped)
}

func TestSeekPosition(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 100, 0.25) // 2s
	out := &fakeSink{delay: time.Millisecond}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("a", true, 0)
	waitEvent(t, p, EventPlaying)

	target := time.Second
	p.Seek(target)
	ev := waitEvent(t, p, EventPlaying)
	diff := ev.Position - target
	if diff < 0 {
		diff = -diff
	}
	if diff >= audio.FrameDuration {
		t.Errorf("post-seek position %v, want within %v of %v", ev.Position, audio.FrameDuration, target)
	}
	p.Stop()
	waitEvent(t, p, EventStopped)
}

func TestSeekPreservesPausedMode(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 100, 0.25)
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("a", false, 0)
	waitEvent(t, p, EventPaused)
	before := out.frameCount()

	p.Seek(time.Second)
	ev := waitEvent(t, p, EventPaused)
	if ev.Position < time.Second {
		t.Errorf("post-seek paused position = %v, want >= 1s", ev.Position)
	}
	if n := out.frameCount(); n != before {
		t.Errorf("sink received frames while paused across seek: %d -> %d", before, n)
	}
}

func TestStopThenLoadStartsClean(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 50, 0.25)
	prov.add("b", 5, 0.5)
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(0))

	// Paused load fills the buffer with track a frames that must never
	// reach the sink.
	p.Load("a", false, 0)
	waitEvent(t, p, EventPaused)
	p.Stop()
	waitEvent(t, p, EventStopped)
	if n := out.frameCount(); n != 0 {
		t.Fatalf("sink received %d frames from the stopped track", n)
	}

	p.Load("b", true, 0)
	waitEvent(t, p, EventEndOfTrack)
	if n := out.frameCount(); n != 5 {
		t.Errorf("sink received %d frames, want 5", n)
	}
	if !out.allSamplesNear(0.5) {
		t.Error("sink received residual frames from the previous track")
	}
}

func TestUnavailableTrack(t *testing.T) {
	prov := newFakeProvider()
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("missing", true, 0)
	got := collectUntil(t, p, EventStopped)
	want := []EventKind{EventLoading, EventUnavailable, EventStopped}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", kinds(got), want)
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Fatalf("events = %v, want %v", kinds(got), want)
		}
	}
	if s := p.State(); s.Kind != StateStopped {
		t.Errorf("state = %v, want stopped", s.Kind)
	}

	// The player stays usable after a failure.
	prov.add("later", 2, 0.25)
	p.Load("later", true, 0)
	waitEvent(t, p, EventEndOfTrack)
}

func TestSetVolumeClampsAndNotifies(t *testing.T) {
	prov := newFakeProvider()
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(0))

	p.SetVolume(99999)
	ev := waitEvent(t, p, EventVolumeChanged)
	if ev.Volume != mixer.MaxVolume {
		t.Errorf("volume = %d, want %d", ev.Volume, mixer.MaxVolume)
	}

	p.SetVolume(-5)
	ev = waitEvent(t, p, EventVolumeChanged)
	if ev.Volume != 0 {
		t.Errorf("volume = %d, want 0", ev.Volume)
	}
}

func TestPreloadHintFiresExactlyOnce(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 100, 0.25) // 2s
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(time.Second))

	p.Load("a", true, 0)
	got := collectUntil(t, p, EventStopped)

	hints := 0
	for _, ev := range got {
		if ev.Kind == EventTimeToPreloadNextTrack {
			hints++
			remaining := 2*time.Second - ev.Position
			if remaining > time.Second {
				t.Errorf("hint at %v, remaining %v exceeds the threshold", ev.Position, remaining)
			}
		}
	}
	if hints != 1 {
		t.Errorf("preload hints = %d, want exactly 1", hints)
	}
}

func TestGaplessTransition(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 50, 0.25) // 1s
	prov.add("b", 5, 0.5)
	out := &fakeSink{delay: time.Millisecond}
	p := startPlayer(t, prov, out, testConfig(500*time.Millisecond))

	p.Load("a", true, 0)

	var got []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Kind == EventUnderrunWarning {
				continue
			}
			got = append(got, ev)
			if ev.Kind == EventTimeToPreloadNextTrack {
				p.Preload("b")
			}
		case <-deadline:
			t.Fatalf("timed out, events so far: %v", kinds(got))
		}
		if len(got) > 0 && got[len(got)-1].Kind == EventStopped {
			break
		}
	}

	// Track b is shorter than the preload threshold, so its playback opens
	// with a hint of its own.
	want := []EventKind{
		EventLoading, EventPlaying, EventTimeToPreloadNextTrack,
		EventEndOfTrack, EventPlaying, EventTimeToPreloadNextTrack,
		EventEndOfTrack, EventStopped,
	}
	gk := kinds(got)
	if len(gk) != len(want) {
		t.Fatalf("events = %v, want %v", gk, want)
	}
	for i, k := range want {
		if gk[i] != k {
			t.Fatalf("events = %v, want %v", gk, want)
		}
	}
	if got[3].TrackID != "a" || got[4].TrackID != "b" {
		t.Errorf("transition tracks = %s -> %s, want a -> b", got[3].TrackID, got[4].TrackID)
	}

	// Gapless means the device was acquired once and never released
	// between tracks.
	opens, closes := out.counts()
	if opens != 1 || closes != 1 {
		t.Errorf("sink opens/closes = %d/%d, want 1/1", opens, closes)
	}
	if n := out.frameCount(); n != 55 {
		t.Errorf("sink received %d frames, want 55", n)
	}
	if prov.fetchCount("b") != 1 {
		t.Errorf("track b fetched %d times, want 1", prov.fetchCount("b"))
	}
}

func TestStopPreemptsBufferedAudio(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 100, 0.25)
	out := &fakeSink{gate: make(chan struct{})}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("a", true, 0)
	waitEvent(t, p, EventPlaying) // emitted before the first gated Write

	p.Stop()
	go func() {
		for {
			select {
			case out.gate <- struct{}{}:
			case <-time.After(time.Second):
				return
			}
		}
	}()
	waitEvent(t, p, EventStopped)

	if n := out.frameCount(); n >= 100 {
		t.Errorf("sink received %d frames, want the buffered remainder discarded", n)
	}
}

func TestUnderrunWarningOnStarvedBuffer(t *testing.T) {
	prov := newFakeProvider()
	prov.tracks["a"] = fakeTrack{
		data:     pcmTrack(10, 0.25),
		duration: 10 * audio.FrameDuration,
		slow:     5 * time.Millisecond,
	}
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("a", true, 0)
	deadline := time.After(5 * time.Second)
	warned := false
	for {
		var ev Event
		select {
		case ev = <-p.Events():
		case <-deadline:
			t.Fatal("timed out waiting for end of track")
		}
		if ev.Kind == EventUnderrunWarning {
			warned = true
		}
		if ev.Kind == EventEndOfTrack {
			break
		}
	}
	if !warned {
		t.Error("no underrun warning despite a starved buffer")
	}
	if n := out.frameCount(); n != 10 {
		t.Errorf("sink received %d frames, want all 10 despite underruns", n)
	}
}

func TestNoUnderrunWarningWhenSinkIsSlowest(t *testing.T) {
	prov := newFakeProvider()
	prov.add("a", 10, 0.25)
	// The sink paces the whole pipeline, so the buffer drains only when
	// the track ends. That drain is not starvation.
	out := &fakeSink{delay: 5 * time.Millisecond}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Load("a", true, 0)
	deadline := time.After(5 * time.Second)
	for {
		var ev Event
		select {
		case ev = <-p.Events():
		case <-deadline:
			t.Fatal("timed out waiting for stopped")
		}
		if ev.Kind == EventUnderrunWarning {
			t.Errorf("underrun warning at %v although the sink was never starved", ev.Position)
		}
		if ev.Kind == EventStopped {
			return
		}
	}
}

func TestStopFromStoppedIsSafe(t *testing.T) {
	prov := newFakeProvider()
	out := &fakeSink{}
	p := startPlayer(t, prov, out, testConfig(0))

	p.Stop()
	waitEvent(t, p, EventStopped)
	p.Stop()
	waitEvent(t, p, EventStopped)
	if opens, closes := out.counts(); opens != 0 || closes != 0 {
		t.Errorf("sink touched while stopped: opens/closes = %d/%d", opens, closes)
	}
}
