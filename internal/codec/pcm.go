package codec

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/satindergrewal/tonearm/internal/audio"
)

const pcmBytesPerGroup = 2 * audio.Channels // s16le, one sample per channel

// pcmDecoder reads raw little-endian 16-bit stereo PCM at the engine rate.
type pcmDecoder struct {
	r      io.Reader
	buf    []byte
	groups int64 // sample groups decoded so far
}

func newPCMDecoder(r io.Reader) *pcmDecoder {
	return &pcmDecoder{
		r:   r,
		buf: make([]byte, audio.FrameSize*pcmBytesPerGroup),
	}
}

func (d *pcmDecoder) Decode(f *audio.Frame) error {
	n, err := io.ReadFull(d.r, d.buf)
	if err == io.ErrUnexpectedEOF {
		n -= n % pcmBytesPerGroup // drop a torn sample group at the end
		err = nil
		if n == 0 {
			return io.EOF
		}
	}
	if err != nil {
		return err
	}

	if cap(f.Samples) < audio.FrameSamples {
		f.Samples = make([]float64, audio.FrameSamples)
	}
	f.Samples = f.Samples[:n/2]
	for i := range f.Samples {
		s := int16(binary.LittleEndian.Uint16(d.buf[i*2:]))
		f.Samples[i] = float64(s) / 32768
	}
	f.Position = audio.SamplesToDuration(int(d.groups) * audio.Channels)
	d.groups += int64(n / pcmBytesPerGroup)
	return nil
}

func (d *pcmDecoder) Seek(pos time.Duration) (time.Duration, error) {
	groups := int64(audio.DurationToSamples(pos) / audio.Channels)
	if s, ok := d.r.(io.Seeker); ok {
		if _, err := s.Seek(groups*pcmBytesPerGroup, io.SeekStart); err != nil {
			return 0, err
		}
		d.groups = groups
		return audio.SamplesToDuration(int(groups) * audio.Channels), nil
	}
	return discardTo(d, pos)
}

func (d *pcmDecoder) Duration() time.Duration {
	s, ok := d.r.(io.Seeker)
	if !ok {
		return 0
	}
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0
	}
	return audio.SamplesToDuration(int(end/pcmBytesPerGroup) * audio.Channels)
}

func (d *pcmDecoder) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
