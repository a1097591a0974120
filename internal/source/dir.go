package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/satindergrewal/tonearm/internal/codec"
	"github.com/satindergrewal/tonearm/internal/normaliser"
)

// sidecar is the optional <id>.json next to a track file, carrying the
// metadata the session layer would normally supply.
type sidecar struct {
	DurationMS    int64            `json:"duration_ms"`
	Normalisation *normaliser.Data `json:"normalisation"`
}

// DirProvider serves tracks from a local directory: the track identifier is
// a file name (without extension) inside the root.
type DirProvider struct {
	root string
}

func NewDirProvider(root string) *DirProvider {
	return &DirProvider{root: root}
}

// Fetch opens the track file for streaming. The format is taken from the
// file extension, falling back to content sniffing.
func (p *DirProvider) Fetch(ctx context.Context, id string) (*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := p.resolve(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, id, err)
	}

	t := &Track{
		ID:     id,
		Audio:  f,
		Format: formatForExt(filepath.Ext(path)),
	}

	var meta sidecar
	if raw, err := os.ReadFile(sidecarPath(path)); err == nil {
		if err := json.Unmarshal(raw, &meta); err == nil {
			t.Duration = time.Duration(meta.DurationMS) * time.Millisecond
			t.Normalisation = meta.Normalisation
		}
	}
	return t, nil
}

// resolve finds the on-disk file for a track id, trying known extensions.
func (p *DirProvider) resolve(id string) (string, error) {
	if filepath.Ext(id) != "" {
		path := filepath.Join(p.root, id)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, ext := range []string{".ogg", ".opus", ".mp3", ".pcm", ".raw"} {
		path := filepath.Join(p.root, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

func formatForExt(ext string) codec.Format {
	switch strings.ToLower(ext) {
	case ".ogg", ".opus":
		return codec.FormatOgg
	case ".mp3":
		return codec.FormatMP3
	case ".pcm", ".raw":
		return codec.FormatPCM
	}
	return codec.FormatAuto
}

func sidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}
