package player

import "time"

// EventKind names a player event.
type EventKind string

const (
	EventLoading                EventKind = "loading"
	EventPlaying                EventKind = "playing"
	EventPaused                 EventKind = "paused"
	EventStopped                EventKind = "stopped"
	EventEndOfTrack             EventKind = "end_of_track"
	EventTimeToPreloadNextTrack EventKind = "time_to_preload_next_track"
	EventVolumeChanged          EventKind = "volume_changed"
	EventUnavailable            EventKind = "unavailable"
	EventUnderrunWarning        EventKind = "underrun_warning"
)

// Event reports a player state transition to the control layer. Delivery is
// ordered; the channel is bounded and the player blocks rather than drops,
// so a terminal event is never lost.
type Event struct {
	Kind     EventKind
	TrackID  string
	Position time.Duration
	Volume   uint16
}
