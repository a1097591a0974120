package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
)

// Frame is one buffer period of interleaved float64 PCM together with its
// stream position. Samples has length FrameSamples except for the final,
// possibly short, frame of a track.
type Frame struct {
	Samples  []float64
	Position time.Duration // position of the first sample in the track
}

// End returns the stream position just past the last sample of the frame.
func (f *Frame) End() time.Duration {
	return f.Position + SamplesToDuration(len(f.Samples))
}

// SamplesToDuration converts a count of interleaved samples to track time.
func SamplesToDuration(n int) time.Duration {
	return time.Duration(n/Channels) * time.Second / SampleRate
}

// DurationToSamples converts track time to a count of interleaved samples,
// rounded down to a whole sample group.
func DurationToSamples(d time.Duration) int {
	groups := int(d * SampleRate / time.Second)
	return groups * Channels
}
