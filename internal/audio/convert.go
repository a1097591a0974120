package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat is the numeric sample encoding a sink accepts.
type SampleFormat string

const (
	FormatS16 SampleFormat = "s16"
	FormatS24 SampleFormat = "s24" // 24-bit samples in the low bits of an int32
	FormatS32 SampleFormat = "s32"
	FormatF32 SampleFormat = "f32"
)

// ParseSampleFormat validates a configured sample format name.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch SampleFormat(s) {
	case FormatS16, FormatS24, FormatS32, FormatF32:
		return SampleFormat(s), nil
	}
	return "", fmt.Errorf("unknown sample format %q", s)
}

// Converter turns float64 frames into the integer or float encoding a sink
// accepts. Scratch buffers are reused across calls, so returned slices are
// only valid until the next conversion.
type Converter struct {
	s16 []int16
	s32 []int32
	f32 []float32
	raw []byte
}

func NewConverter() *Converter {
	return &Converter{
		s16: make([]int16, FrameSamples),
		s32: make([]int32, FrameSamples),
		f32: make([]float32, FrameSamples),
		raw: make([]byte, FrameSamples*4),
	}
}

func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// ToS16 converts to 16-bit signed integer samples.
func (c *Converter) ToS16(samples []float64) []int16 {
	out := c.grow16(len(samples))
	for i, s := range samples {
		out[i] = int16(clamp(s) * 32767)
	}
	return out
}

// ToS24 converts to 24-bit signed samples carried in int32 values.
func (c *Converter) ToS24(samples []float64) []int32 {
	out := c.grow32(len(samples))
	for i, s := range samples {
		out[i] = int32(clamp(s) * 8388607)
	}
	return out
}

// ToS32 converts to 32-bit signed integer samples.
func (c *Converter) ToS32(samples []float64) []int32 {
	out := c.grow32(len(samples))
	for i, s := range samples {
		out[i] = int32(clamp(s) * 2147483647)
	}
	return out
}

// ToF32 converts to 32-bit float samples, clamped to [-1, 1].
func (c *Converter) ToF32(samples []float64) []float32 {
	if cap(c.f32) < len(samples) {
		c.f32 = make([]float32, len(samples))
	}
	out := c.f32[:len(samples)]
	for i, s := range samples {
		out[i] = float32(clamp(s))
	}
	return out
}

// Bytes serialises samples little-endian in the given format, for sinks that
// consume raw byte streams.
func (c *Converter) Bytes(samples []float64, format SampleFormat) []byte {
	switch format {
	case FormatS16:
		s16 := c.ToS16(samples)
		out := c.growRaw(len(samples) * 2)
		for i, s := range s16 {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
		}
		return out
	case FormatS24:
		s24 := c.ToS24(samples)
		out := c.growRaw(len(samples) * 3)
		for i, s := range s24 {
			out[i*3] = byte(s)
			out[i*3+1] = byte(s >> 8)
			out[i*3+2] = byte(s >> 16)
		}
		return out
	case FormatS32:
		s32 := c.ToS32(samples)
		out := c.growRaw(len(samples) * 4)
		for i, s := range s32 {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(s))
		}
		return out
	default: // FormatF32
		f32 := c.ToF32(samples)
		out := c.growRaw(len(samples) * 4)
		for i, s := range f32 {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
		}
		return out
	}
}

func (c *Converter) grow16(n int) []int16 {
	if cap(c.s16) < n {
		c.s16 = make([]int16, n)
	}
	return c.s16[:n]
}

func (c *Converter) grow32(n int) []int32 {
	if cap(c.s32) < n {
		c.s32 = make([]int32, n)
	}
	return c.s32[:n]
}

func (c *Converter) growRaw(n int) []byte {
	if cap(c.raw) < n {
		c.raw = make([]byte, n)
	}
	return c.raw[:n]
}
