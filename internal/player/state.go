package player

import "time"

// StateKind names a player state.
type StateKind string

const (
	StateStopped    StateKind = "stopped"
	StateLoading    StateKind = "loading"
	StatePaused     StateKind = "paused"
	StatePlaying    StateKind = "playing"
	StateEndOfTrack StateKind = "end_of_track"
)

// State is an immutable snapshot of where the player is. It is replaced
// wholesale on every transition and read lock-free via State().
type State struct {
	Kind     StateKind
	TrackID  string
	Position time.Duration
}

// Active reports whether a track is loaded (any state but Stopped).
func (s State) Active() bool {
	return s.Kind != StateStopped
}
