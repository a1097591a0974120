package codec

import "github.com/satindergrewal/tonearm/internal/audio"

// resampler converts interleaved stereo samples from a source rate to the
// engine rate by linear interpolation. Decoders that already produce 48kHz
// bypass it entirely.
type resampler struct {
	srcRate int
	step    float64 // source groups advanced per output group
	pos     float64 // fractional read position in pending, in groups
	pending []float64
}

func newResampler(srcRate int) *resampler {
	return &resampler{
		srcRate: srcRate,
		step:    float64(srcRate) / float64(audio.SampleRate),
	}
}

// push consumes source-rate samples and appends as many engine-rate samples
// as can be interpolated to out. A final partial group at the tail is kept
// for the next call.
func (r *resampler) push(src []float64, out []float64) []float64 {
	r.pending = append(r.pending, src...)
	groups := len(r.pending) / audio.Channels

	for int(r.pos)+1 < groups {
		i := int(r.pos)
		frac := r.pos - float64(i)
		for ch := 0; ch < audio.Channels; ch++ {
			a := r.pending[i*audio.Channels+ch]
			b := r.pending[(i+1)*audio.Channels+ch]
			out = append(out, a+(b-a)*frac)
		}
		r.pos += r.step
	}

	// Drop consumed groups, keeping the group int(r.pos) still refers to.
	keep := int(r.pos)
	if keep > groups-1 {
		keep = groups - 1
	}
	if keep > 0 {
		r.pending = r.pending[:copy(r.pending, r.pending[keep*audio.Channels:])]
		r.pos -= float64(keep)
	}
	return out
}

// srcGroups converts an output group count back to source groups, for seek
// arithmetic at the source rate.
func (r *resampler) srcGroups(outGroups int64) int64 {
	return int64(float64(outGroups) * r.step)
}
