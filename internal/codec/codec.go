// Package codec turns encoded byte streams into PCM frames. The playback
// engine consumes decoders as black boxes; everything here is a thin binding
// onto a decoding library plus position bookkeeping.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/satindergrewal/tonearm/internal/audio"
)

// ErrCorrupt reports an undecodable (truncated or damaged) stream.
var ErrCorrupt = errors.New("corrupt audio stream")

// Format names a supported bitstream encoding.
type Format string

const (
	FormatAuto Format = ""    // sniff from leading bytes
	FormatOgg  Format = "ogg" // opus in an ogg container
	FormatMP3  Format = "mp3"
	FormatPCM  Format = "pcm" // raw s16le, 48kHz stereo
)

// Decoder is a lazy byte-stream-to-PCM converter.
type Decoder interface {
	// Decode fills f with the next frame of interleaved float64 samples and
	// its stream position. Returns io.EOF at the end of the track.
	Decode(f *audio.Frame) error

	// Seek positions the stream at pos and returns the position actually
	// reached. Decoders without native seeking decode forward and discard.
	Seek(pos time.Duration) (time.Duration, error)

	// Duration reports the total track length, or 0 when unknown.
	Duration() time.Duration

	Close() error
}

// New opens a decoder for the given format. FormatAuto sniffs the leading
// bytes of the stream.
func New(format Format, r io.Reader) (Decoder, error) {
	if format == FormatAuto {
		br := bufio.NewReader(r)
		head, err := br.Peek(4)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		format = sniff(head)
		r = br
	}
	switch format {
	case FormatOgg:
		return newOpusDecoder(r)
	case FormatMP3:
		return newMP3Decoder(r)
	case FormatPCM:
		return newPCMDecoder(r), nil
	}
	return nil, fmt.Errorf("unknown audio format %q", format)
}

// sniff recognises a container from its magic bytes, defaulting to raw PCM.
func sniff(head []byte) Format {
	if len(head) >= 4 && string(head[:4]) == "OggS" {
		return FormatOgg
	}
	if len(head) >= 3 && string(head[:3]) == "ID3" {
		return FormatMP3
	}
	if len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0 {
		return FormatMP3
	}
	return FormatPCM
}

// discardTo decodes and drops frames until pos, for decoders that cannot
// seek natively. Returns the position of the next frame to be decoded.
func discardTo(d Decoder, pos time.Duration) (time.Duration, error) {
	var f audio.Frame
	reached := time.Duration(0)
	for reached < pos {
		if err := d.Decode(&f); err != nil {
			if err == io.EOF {
				return reached, nil
			}
			return reached, err
		}
		reached = f.End()
	}
	return reached, nil
}
