package mixer

import (
	"fmt"
	"math"
	"sync/atomic"
)

// MaxVolume is the top of the volume scale exposed to the control layer.
const MaxVolume = 65535

// Curve maps a volume level to a linear amplitude multiplier.
type Curve string

const (
	CurveCubic  Curve = "cubic"
	CurveLinear Curve = "linear"
	CurveLog    Curve = "log"
	CurveFixed  Curve = "fixed" // device performs volume control itself
)

// ParseCurve validates a configured curve name.
func ParseCurve(s string) (Curve, error) {
	switch Curve(s) {
	case CurveCubic, CurveLinear, CurveLog, CurveFixed:
		return Curve(s), nil
	}
	return "", fmt.Errorf("unknown volume curve %q", s)
}

// Mixer applies a user-controlled volume multiplier to PCM frames. The
// multiplier is kept as atomic float bits so the audio path reads it on
// every frame without locking; SetVolume may be called from any goroutine.
type Mixer struct {
	curve   Curve
	rangeDB float64

	level  atomic.Uint32
	factor atomic.Uint64 // math.Float64bits of the current multiplier
}

// New creates a mixer at the given initial level. rangeDB is the dynamic
// range of the logarithmic curve and is ignored by the other curves.
func New(curve Curve, rangeDB float64, level int) *Mixer {
	m := &Mixer{curve: curve, rangeDB: rangeDB}
	m.SetVolume(level)
	return m
}

// SetVolume clamps level to [0, MaxVolume] and updates the live multiplier.
// Returns the clamped level.
func (m *Mixer) SetVolume(level int) uint16 {
	if level < 0 {
		level = 0
	}
	if level > MaxVolume {
		level = MaxVolume
	}
	m.level.Store(uint32(level))
	m.factor.Store(math.Float64bits(Multiplier(m.curve, m.rangeDB, uint16(level))))
	return uint16(level)
}

// Volume returns the current level.
func (m *Mixer) Volume() uint16 {
	return uint16(m.level.Load())
}

// Factor returns the current linear multiplier. Lock-free.
func (m *Mixer) Factor() float64 {
	return math.Float64frombits(m.factor.Load())
}

// Apply scales a frame of samples in place by the current multiplier.
func (m *Mixer) Apply(samples []float64) {
	f := m.Factor()
	if f == 1 {
		return
	}
	for i := range samples {
		samples[i] *= f
	}
}

// Multiplier computes the amplitude multiplier for a level under a curve.
// All curves map 0 to silence (except fixed) and MaxVolume to unity.
func Multiplier(curve Curve, rangeDB float64, level uint16) float64 {
	frac := float64(level) / MaxVolume
	switch curve {
	case CurveFixed:
		return 1
	case CurveLinear:
		return frac
	case CurveCubic:
		return frac * frac * frac
	default: // CurveLog: decibel taper over rangeDB
		if level == 0 {
			return 0
		}
		return math.Pow(10, rangeDB*(frac-1)/20)
	}
}
