package source

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/satindergrewal/tonearm/internal/codec"
	"golang.org/x/crypto/pbkdf2"
)

// Encrypted track streams are a sequence of independently sealed chunks:
// a big-endian uint16 chunk length followed by an AES-GCM nonce and
// ciphertext. Chunked sealing keeps decryption incremental, so large tracks
// stream without ever being held in memory whole.

const (
	keySalt      = "tonearm.audio.v1"
	keyIter      = 4096
	cryptChunk   = 16 * 1024
	gcmOverhead  = 12 + 16 // nonce + tag
	maxChunkSize = cryptChunk + gcmOverhead
)

// DeriveKey stretches a passphrase into a 32-byte AES key.
func DeriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIter, 32, sha256.New)
}

// EncryptedProvider decrypts the streams of an inner provider.
type EncryptedProvider struct {
	inner Provider
	key   []byte
}

func NewEncryptedProvider(inner Provider, key []byte) *EncryptedProvider {
	return &EncryptedProvider{inner: inner, key: key}
}

func (p *EncryptedProvider) Fetch(ctx context.Context, id string) (*Track, error) {
	t, err := p.inner.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	dr, err := newDecryptReader(t.Audio, p.key)
	if err != nil {
		t.Audio.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, id, err)
	}
	t.Audio = dr
	t.Format = codec.FormatAuto // sniff the plaintext, not the container name
	return t, nil
}

type decryptReader struct {
	src  io.ReadCloser
	gcm  cipher.AEAD
	head [2]byte
	seal []byte
	buf  []byte // decrypted bytes not yet consumed
}

func newDecryptReader(src io.ReadCloser, key []byte) (*decryptReader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &decryptReader{
		src:  src,
		gcm:  gcm,
		seal: make([]byte, maxChunkSize),
	}, nil
}

func (r *decryptReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// fill reads and opens the next sealed chunk.
func (r *decryptReader) fill() error {
	if _, err := io.ReadFull(r.src, r.head[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.ErrUnexpectedEOF
		}
		return err // io.EOF on a clean chunk boundary
	}
	size := int(binary.BigEndian.Uint16(r.head[:]))
	if size < gcmOverhead || size > maxChunkSize {
		return fmt.Errorf("invalid chunk size %d", size)
	}
	if _, err := io.ReadFull(r.src, r.seal[:size]); err != nil {
		return io.ErrUnexpectedEOF
	}

	nonce := r.seal[:r.gcm.NonceSize()]
	plain, err := r.gcm.Open(nil, nonce, r.seal[r.gcm.NonceSize():size], nil)
	if err != nil {
		return fmt.Errorf("chunk decrypt failed: %w", err)
	}
	r.buf = plain
	return nil
}

func (r *decryptReader) Close() error {
	return r.src.Close()
}

// EncryptWriter seals plaintext into the chunked stream format. Used by the
// track preparation tooling and by tests; the playback engine itself only
// decrypts.
type EncryptWriter struct {
	dst     io.Writer
	gcm     cipher.AEAD
	pending []byte
}

func NewEncryptWriter(dst io.Writer, key []byte) (*EncryptWriter, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptWriter{dst: dst, gcm: gcm}, nil
}

func (w *EncryptWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for len(w.pending) >= cryptChunk {
		if err := w.flush(w.pending[:cryptChunk]); err != nil {
			return 0, err
		}
		w.pending = w.pending[:copy(w.pending, w.pending[cryptChunk:])]
	}
	return len(p), nil
}

// Close seals any remaining partial chunk.
func (w *EncryptWriter) Close() error {
	if len(w.pending) == 0 {
		return nil
	}
	err := w.flush(w.pending)
	w.pending = nil
	return err
}

func (w *EncryptWriter) flush(plain []byte) error {
	nonce := make([]byte, w.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	sealed := w.gcm.Seal(nonce, nonce, plain, nil)

	var head [2]byte
	binary.BigEndian.PutUint16(head[:], uint16(len(sealed)))
	if _, err := w.dst.Write(head[:]); err != nil {
		return err
	}
	_, err := w.dst.Write(sealed)
	return err
}
