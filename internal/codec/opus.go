package codec

import (
	"fmt"
	"io"
	"time"

	"github.com/satindergrewal/tonearm/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// opusDecoder reads opus frames out of an ogg container. Opus always decodes
// at 48kHz, so no resampling is needed. The container carries no reliable
// length header on a plain stream, so Duration is unknown and seeking
// decodes forward.
type opusDecoder struct {
	stream *opus.Stream
	buf    []float32
	queue  []float64
	groups int64
	eof    bool
}

func newOpusDecoder(r io.Reader) (Decoder, error) {
	s, err := opus.NewStream(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &opusDecoder{
		stream: s,
		buf:    make([]float32, 5760*audio.Channels), // one max-length opus frame
	}, nil
}

func (d *opusDecoder) Decode(f *audio.Frame) error {
	for len(d.queue) < audio.FrameSamples && !d.eof {
		n, err := d.stream.ReadFloat32(d.buf)
		if n > 0 {
			for _, s := range d.buf[:n*audio.Channels] {
				d.queue = append(d.queue, float64(s))
			}
		}
		if err == io.EOF {
			d.eof = true
		} else if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
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

func (d *opusDecoder) Seek(pos time.Duration) (time.Duration, error) {
	return discardTo(d, pos)
}

func (d *opusDecoder) Duration() time.Duration {
	return 0
}

func (d *opusDecoder) Close() error {
	return d.stream.Close()
}
