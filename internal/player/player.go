// Package player is the playback orchestration engine: a state machine
// coordinating decode, normalisation, mixing, and device output. One
// goroutine produces frames per track (the pipeline), the Run loop consumes
// them, services commands, and emits events. The bounded frame buffer
// between the two is the only shared mutable structure.
package player

import (
	"sync/atomic"
	"time"

	"github.com/satindergrewal/tonearm/internal/audio"
	"github.com/satindergrewal/tonearm/internal/mixer"
	"github.com/satindergrewal/tonearm/internal/normaliser"
	"github.com/satindergrewal/tonearm/internal/sink"
	"github.com/satindergrewal/tonearm/internal/source"
)

// Config are the player's tunable parameters.
type Config struct {
	BufferFrames     int           // frame buffer depth between producer and consumer
	PreloadThreshold time.Duration // remaining audio that triggers the preload hint
	EventBuffer      int           // event channel depth before backpressure
	Normalisation    normaliser.Config
}

// Player owns the decode pipeline, the sink, and the command/event
// channels. It persists across tracks: every failure degrades only the
// current track and leaves the player ready for a new Load.
type Player struct {
	provider source.Provider
	out      sink.Sink
	mixer    *mixer.Mixer
	conv     *audio.Converter
	norm     normaliser.Config

	bufferFrames     int
	preloadThreshold time.Duration

	commands chan command
	events   chan Event
	state    atomic.Pointer[State]
}

// New wires a player to its collaborators. The sink is constructed but not
// opened; it is acquired when playback starts and released on Stop.
func New(cfg Config, provider source.Provider, out sink.Sink, mix *mixer.Mixer) *Player {
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = 16
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}
	p := &Player{
		provider:         provider,
		out:              out,
		mixer:            mix,
		conv:             audio.NewConverter(),
		norm:             cfg.Normalisation,
		bufferFrames:     cfg.BufferFrames,
		preloadThreshold: cfg.PreloadThreshold,
		commands:         make(chan command, 16),
		events:           make(chan Event, cfg.EventBuffer),
	}
	p.state.Store(&State{Kind: StateStopped})
	return p
}

// Events is the ordered event stream. The channel is closed when Run
// returns; a consumer that stops reading will eventually stall the player.
func (p *Player) Events() <-chan Event {
	return p.events
}

// State returns the current state snapshot. Lock-free.
func (p *Player) State() State {
	return *p.state.Load()
}

// Load starts playback of a track, beginning decode at position. Any
// pipeline for a different track is cancelled and its buffered frames are
// discarded. With startPlaying false the track is prepared and paused.
func (p *Player) Load(trackID string, startPlaying bool, position time.Duration) {
	p.commands <- command{kind: cmdLoad, trackID: trackID, startPlaying: startPlaying, position: position}
}

// Play resumes from Paused or Loading. No-op while already playing.
func (p *Player) Play() {
	p.commands <- command{kind: cmdPlay}
}

// Pause stops feeding the sink without discarding buffered audio.
func (p *Player) Pause() {
	p.commands <- command{kind: cmdPause}
}

// Stop cancels the pipeline, closes the sink, and returns to Stopped. Safe
// from any state.
func (p *Player) Stop() {
	p.commands <- command{kind: cmdStop}
}

// Seek restarts decode at position, discarding buffered frames and
// preserving the playing/paused mode.
func (p *Player) Seek(position time.Duration) {
	p.commands <- command{kind: cmdSeek, position: position}
}

// SetVolume clamps level to [0, mixer.MaxVolume] and updates the live
// multiplier without interrupting playback.
func (p *Player) SetVolume(level int) {
	p.commands <- command{kind: cmdSetVolume, volume: level}
}

// Preload begins fetching and decoding a track ahead of need so the
// transition on end-of-stream is gapless. Does not alter the player state.
func (p *Player) Preload(trackID string) {
	p.commands <- command{kind: cmdPreload, trackID: trackID}
}

func (p *Player) setState(kind StateKind, trackID string, pos time.Duration) {
	p.state.Store(&State{Kind: kind, TrackID: trackID, Position: pos})
}
