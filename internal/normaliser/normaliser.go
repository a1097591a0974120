package normaliser

import (
	"fmt"
	"math"
	"time"
)

// Data carries the loudness metadata of a track, immutable for the track's
// lifetime. Gains are in dB relative to the reference scale; peaks are
// linear sample magnitudes in [0, 1].
type Data struct {
	TrackGainDB float64 `json:"track_gain_db"`
	TrackPeak   float64 `json:"track_peak"`
	AlbumGainDB float64 `json:"album_gain_db"`
	AlbumPeak   float64 `json:"album_peak"`
}

// Mode selects which of the two gain/peak pairs applies.
type Mode string

const (
	ModeTrack Mode = "track"
	ModeAlbum Mode = "album"
)

// ParseMode validates a configured normalisation mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTrack, ModeAlbum:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown normalisation mode %q", s)
}

// Config are the tunable parameters of the normalisation stage.
type Config struct {
	Enabled     bool
	Mode        Mode
	ReferenceDB float64 // loudness target
	PregainDB   float64
	GainClampDB float64 // computed gain clamped to +/- this many dB
	Threshold   float64 // post-gain magnitude that engages the limiter
	Attack      time.Duration
	Release     time.Duration
	SampleRate  int
}

// GainFactor computes the static linear gain for a track: the distance from
// the track's measured loudness to the reference target, clamped, and capped
// so the known peak cannot exceed the limiter threshold on its own.
func GainFactor(d *Data, cfg Config) float64 {
	if !cfg.Enabled || d == nil {
		return 1
	}
	gainDB, peak := d.TrackGainDB, d.TrackPeak
	if cfg.Mode == ModeAlbum {
		gainDB, peak = d.AlbumGainDB, d.AlbumPeak
	}

	db := cfg.ReferenceDB - gainDB + cfg.PregainDB
	if db > cfg.GainClampDB {
		db = cfg.GainClampDB
	}
	if db < -cfg.GainClampDB {
		db = -cfg.GainClampDB
	}
	factor := math.Pow(10, db/20)

	if peak > 0 && factor*peak > cfg.Threshold {
		factor = cfg.Threshold / peak
	}
	return factor
}

// Limiter applies a track's static gain and then smoothly ducks whenever a
// post-gain sample would exceed the threshold: attenuation ramps in over the
// attack window and recovers over the longer release window. Process runs
// inline in the per-frame path and never allocates.
type Limiter struct {
	factor    float64 // static per-track gain
	threshold float64
	attack    float64 // one-pole coefficients
	release   float64
	duck      float64 // current dynamic attenuation, (0, 1]
}

// NewLimiter builds the per-track gain stage. d may be nil when the track
// has no loudness metadata; only the limiter then remains active.
func NewLimiter(d *Data, cfg Config) *Limiter {
	return &Limiter{
		factor:    GainFactor(d, cfg),
		threshold: cfg.Threshold,
		attack:    coefficient(cfg.Attack, cfg.SampleRate),
		release:   coefficient(cfg.Release, cfg.SampleRate),
		duck:      1,
	}
}

// coefficient converts a time constant to a per-sample one-pole smoothing
// factor: duck covers ~63% of the distance to its target within tc.
func coefficient(tc time.Duration, sampleRate int) float64 {
	samples := tc.Seconds() * float64(sampleRate)
	if samples <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/samples)
}

// Factor returns the static gain applied before limiting.
func (l *Limiter) Factor() float64 {
	return l.factor
}

// Process applies gain and limiting to a frame in place.
func (l *Limiter) Process(samples []float64) {
	for i, s := range samples {
		s *= l.factor
		mag := math.Abs(s)
		if mag*l.duck > l.threshold {
			want := l.threshold / mag
			l.duck += (want - l.duck) * l.attack
		} else {
			l.duck += (1 - l.duck) * l.release
		}
		samples[i] = s * l.duck
	}
}
