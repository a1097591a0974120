package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/satindergrewal/tonearm/internal/codec"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDirProviderFetch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "song.pcm", []byte{1, 2, 3, 4})

	p := NewDirProvider(dir)
	tr, err := p.Fetch(context.Background(), "song")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer tr.Audio.Close()

	if tr.ID != "song" {
		t.Errorf("ID = %q, want 'song'", tr.ID)
	}
	if tr.Format != codec.FormatPCM {
		t.Errorf("Format = %q, want pcm", tr.Format)
	}
	data, err := io.ReadAll(tr.Audio)
	if err != nil || !bytes.Equal(data, []byte{1, 2, 3, 4}) {
		t.Errorf("Audio = %v (%v), want [1 2 3 4]", data, err)
	}
}

func TestDirProviderSidecar(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "song.ogg", []byte("OggS"))
	writeFile(t, dir, "song.json", []byte(`{
		"duration_ms": 215000,
		"normalisation": {"track_gain_db": -8.5, "track_peak": 0.93}
	}`))

	p := NewDirProvider(dir)
	tr, err := p.Fetch(context.Background(), "song")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer tr.Audio.Close()

	if tr.Duration != 215*time.Second {
		t.Errorf("Duration = %v, want 3m35s", tr.Duration)
	}
	if tr.Normalisation == nil || tr.Normalisation.TrackGainDB != -8.5 {
		t.Errorf("Normalisation = %+v, want track gain -8.5", tr.Normalisation)
	}
	if tr.Format != codec.FormatOgg {
		t.Errorf("Format = %q, want ogg", tr.Format)
	}
}

func TestDirProviderNotFound(t *testing.T) {
	p := NewDirProvider(t.TempDir())
	_, err := p.Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch missing track: err = %v, want ErrNotFound", err)
	}
}

func TestDirProviderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewDirProvider(t.TempDir())
	if _, err := p.Fetch(ctx, "anything"); err == nil {
		t.Error("Fetch with cancelled context should fail")
	}
}

// --- encrypted provider ---

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey("correct horse battery staple")

	// Span several chunks plus a partial tail
	plain := make([]byte, 40000)
	for i := range plain {
		plain[i] = byte(i * 7)
	}

	var sealed bytes.Buffer
	w, err := NewEncryptWriter(&sealed, key)
	if err != nil {
		t.Fatal(err)
	}
	// Write in awkward pieces to exercise chunk accumulation
	for i := 0; i < len(plain); i += 1000 {
		end := i + 1000
		if end > len(plain) {
			end = len(plain)
		}
		if _, err := w.Write(plain[i:end]); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := newDecryptReader(io.NopCloser(&sealed), key)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: got %d bytes", len(got))
	}
}

func TestDecryptWrongKey(t *testing.T) {
	var sealed bytes.Buffer
	w, _ := NewEncryptWriter(&sealed, DeriveKey("right"))
	w.Write([]byte("some audio bytes"))
	w.Close()

	r, _ := newDecryptReader(io.NopCloser(&sealed), DeriveKey("wrong"))
	if _, err := io.ReadAll(r); err == nil {
		t.Error("decrypt with wrong key should fail")
	}
}

func TestDecryptTruncatedStream(t *testing.T) {
	var sealed bytes.Buffer
	w, _ := NewEncryptWriter(&sealed, DeriveKey("k"))
	w.Write(make([]byte, 5000))
	w.Close()

	cut := sealed.Bytes()[:sealed.Len()-10]
	r, _ := newDecryptReader(io.NopCloser(bytes.NewReader(cut)), DeriveKey("k"))
	if _, err := io.ReadAll(r); err == nil {
		t.Error("truncated stream should fail, not silently end")
	}
}

func TestEncryptedProviderFetch(t *testing.T) {
	key := DeriveKey("album pass")
	dir := t.TempDir()

	plain := []byte("raw pcm payload here")
	var sealed bytes.Buffer
	w, _ := NewEncryptWriter(&sealed, key)
	w.Write(plain)
	w.Close()
	writeFile(t, dir, "song.pcm", sealed.Bytes())

	p := NewEncryptedProvider(NewDirProvider(dir), key)
	tr, err := p.Fetch(context.Background(), "song")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer tr.Audio.Close()

	if tr.Format != codec.FormatAuto {
		t.Errorf("Format = %q, want auto (sniff plaintext)", tr.Format)
	}
	got, err := io.ReadAll(tr.Audio)
	if err != nil || !bytes.Equal(got, plain) {
		t.Errorf("decrypted payload = %q (%v), want %q", got, err, plain)
	}
}

func TestEncryptedProviderPropagatesNotFound(t *testing.T) {
	p := NewEncryptedProvider(NewDirProvider(t.TempDir()), DeriveKey("k"))
	_, err := p.Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey("pass")
	b := DeriveKey("pass")
	c := DeriveKey("other")
	if !bytes.Equal(a, b) {
		t.Error("same passphrase must derive the same key")
	}
	if bytes.Equal(a, c) {
		t.Error("different passphrases must derive different keys")
	}
	if len(a) != 32 {
		t.Errorf("key length = %d, want 32", len(a))
	}
}
