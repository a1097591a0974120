// Package loudness measures tracks that ship without normalisation
// metadata. It is an offline scanner, not part of the real-time path: the
// whole track is decoded once and reduced to a gain/peak pair.
package loudness

import (
	"io"
	"math"

	"github.com/mjibson/go-dsp/window"
	"github.com/satindergrewal/tonearm/internal/audio"
	"github.com/satindergrewal/tonearm/internal/codec"
	"github.com/satindergrewal/tonearm/internal/normaliser"
)

const (
	blockGroups = audio.SampleRate / 10 // 100ms analysis blocks
	gateDB      = -70                   // blocks below this are silence
)

// Scan decodes a track to the end and returns its measured loudness and
// peak. The result plugs straight into the normaliser: a track measured at
// the reference level gets unity gain.
func Scan(dec codec.Decoder) (*normaliser.Data, error) {
	win := window.Hann(blockGroups)
	winPower := 0.0
	for _, w := range win {
		winPower += w * w
	}

	var (
		frame  audio.Frame
		block  = make([]float64, blockGroups)
		fill   int
		peak   float64
		energy float64 // sum of gated block energies
		blocks int
	)

	flush := func() {
		if fill < blockGroups/2 {
			return // ignore a stub block at the end
		}
		e := 0.0
		for i := 0; i < fill; i++ {
			s := block[i] * win[i]
			e += s * s
		}
		e /= winPower * float64(fill) / float64(blockGroups)
		if db(e) > gateDB {
			energy += e
			blocks++
		}
		fill = 0
	}

	for {
		err := dec.Decode(&frame)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for i := 0; i+audio.Channels <= len(frame.Samples); i += audio.Channels {
			mono := 0.0
			for ch := 0; ch < audio.Channels; ch++ {
				s := frame.Samples[i+ch]
				if a := math.Abs(s); a > peak {
					peak = a
				}
				mono += s
			}
			block[fill] = mono / audio.Channels
			fill++
			if fill == blockGroups {
				flush()
			}
		}
	}
	flush()

	loudness := float64(gateDB)
	if blocks > 0 {
		loudness = db(energy / float64(blocks))
	}
	return &normaliser.Data{
		TrackGainDB: loudness,
		TrackPeak:   peak,
		AlbumGainDB: loudness,
		AlbumPeak:   peak,
	}, nil
}

// db converts mean-square energy to decibels.
func db(energy float64) float64 {
	if energy <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(energy)
}
