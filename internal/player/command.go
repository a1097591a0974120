package player

import "time"

type cmdKind int

const (
	cmdLoad cmdKind = iota
	cmdPlay
	cmdPause
	cmdStop
	cmdSeek
	cmdSetVolume
	cmdPreload
)

// command is one entry on the ordered command channel. Commands are applied
// in the sequence issued and are never dropped.
type command struct {
	kind         cmdKind
	trackID      string
	position     time.Duration
	startPlaying bool
	volume       int
}
