package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/satindergrewal/tonearm/internal/audio"
)

// mp3Decoder wraps go-mp3, which always yields s16le stereo at the file's
// native rate. Non-48k files go through the linear resampler.
type mp3Decoder struct {
	src    *mp3.Decoder
	rs     *resampler // nil when the file is already at the engine rate
	raw    []byte
	native []float64
	queue  []float64 // engine-rate samples awaiting framing
	groups int64     // output sample groups delivered
	eof    bool
}

func newMP3Decoder(r io.Reader) (Decoder, error) {
	src, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	d := &mp3Decoder{
		src: src,
		raw: make([]byte, 16384),
	}
	if src.SampleRate() != audio.SampleRate {
		d.rs = newResampler(src.SampleRate())
	}
	return d, nil
}

func (d *mp3Decoder) Decode(f *audio.Frame) error {
	for len(d.queue) < audio.FrameSamples && !d.eof {
		if err := d.fill(); err != nil {
			return err
		}
	}
	if len(d.queue) == 0 {
		return io.EOF
	}

	n := audio.FrameSamples
	if n > len(d.queue) {
		n = len(d.queue)
	}
	if cap(f.Samples) < n {
		f.Samples = make([]float64, audio.FrameSamples)
	}
	f.Samples = f.Samples[:n]
	copy(f.Samples, d.queue[:n])
	d.queue = d.queue[:copy(d.queue, d.queue[n:])]

	f.Position = audio.SamplesToDuration(int(d.groups) * audio.Channels)
	d.groups += int64(n / audio.Channels)
	return nil
}

// fill decodes one chunk of the source into the engine-rate queue.
func (d *mp3Decoder) fill() error {
	n, err := d.src.Read(d.raw)
	if n > 0 {
		n -= n % 4 // whole stereo sample groups only
		if cap(d.native) < n/2 {
			d.native = make([]float64, n/2)
		}
		d.native = d.native[:n/2]
		for i := range d.native {
			s := int16(binary.LittleEndian.Uint16(d.raw[i*2:]))
			d.native[i] = float64(s) / 32768
		}
		if d.rs != nil {
			d.queue = d.rs.push(d.native, d.queue)
		} else {
			d.queue = append(d.queue, d.native...)
		}
	}
	if err == io.EOF {
		d.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

func (d *mp3Decoder) Seek(pos time.Duration) (time.Duration, error) {
	outGroups := int64(audio.DurationToSamples(pos) / audio.Channels)
	srcGroups := outGroups
	if d.rs != nil {
		srcGroups = d.rs.srcGroups(outGroups)
	}
	if _, err := d.src.Seek(srcGroups*4, io.SeekStart); err != nil {
		// Source is not seekable; decode forward instead.
		return discardTo(d, pos)
	}
	if d.rs != nil {
		d.rs = newResampler(d.rs.srcRate)
	}
	d.queue = d.queue[:0]
	d.eof = false
	d.groups = outGroups
	return audio.SamplesToDuration(int(outGroups) * audio.Channels), nil
}

func (d *mp3Decoder) Duration() time.Duration {
	bytes := d.src.Length()
	if bytes <= 0 {
		return 0
	}
	srcGroups := bytes / 4
	return time.Duration(srcGroups) * time.Second / time.Duration(d.src.SampleRate())
}

func (d *mp3Decoder) Close() error {
	return nil
}
