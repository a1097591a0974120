// Package source supplies encoded track byte streams to the playback
// engine. Providers may be stacked: the encrypted provider wraps any other
// provider and decrypts its stream on the fly.
package source

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/satindergrewal/tonearm/internal/codec"
	"github.com/satindergrewal/tonearm/internal/normaliser"
)

var (
	// ErrNotFound reports that the provider has no such track.
	ErrNotFound = errors.New("track not found")

	// ErrNetwork reports a transport failure while fetching a track.
	ErrNetwork = errors.New("track fetch failed")
)

// Track is a fetched track: a streamed byte source plus whatever metadata
// the provider knows. Audio supports partial reads; the caller owns it and
// must close it.
type Track struct {
	ID            string
	Audio         io.ReadCloser
	Format        codec.Format     // FormatAuto when the provider cannot tell
	Duration      time.Duration    // 0 when unknown
	Normalisation *normaliser.Data // nil when no loudness metadata exists
}

// Provider fetches tracks by identifier. Fetch may block on I/O and honours
// ctx cancellation; it fails with ErrNotFound or ErrNetwork.
type Provider interface {
	Fetch(ctx context.Context, id string) (*Track, error)
}
