package sealmail

import (
	"context"
	"io"

	"github.com/sealmail/client-go/internal/crypto"
)

// Stream cipher sizes.
const (
	// ChunkSize is the plaintext size of every chunk but the last.
	ChunkSize = crypto.StreamChunkSize
	// ChunkOverhead is the per-chunk ciphertext expansion.
	ChunkOverhead = crypto.StreamOverhead
	// CipherChunkSize is the ciphertext size of a full chunk.
	CipherChunkSize = crypto.StreamCipherChunkSize
	// StreamKeySize is the stream key size.
	StreamKeySize = crypto.StreamKeySize
	// StreamHeaderSize is the stream header size.
	StreamHeaderSize = crypto.StreamHeaderSize
)

// StreamInfo carries the key, header and plaintext size of an encrypted
// stream. Its JSON form hex-encodes key and header.
type StreamInfo = crypto.StreamInfo

// EncryptStream encrypts src into dst under a fresh key and header.
func EncryptStream(ctx context.Context, dst io.Writer, src io.Reader) (*StreamInfo, error) {
	info, err := crypto.EncryptStream(ctx, dst, src)
	if err != nil {
		return nil, wrapCryptoError(StageStream, err)
	}
	return info, nil
}

// DecryptStream decrypts src into dst. Each chunk is authenticated before
// any of its plaintext is written; the first failure stops decryption with
// a CryptoError.
func DecryptStream(ctx context.Context, dst io.Writer, src io.Reader, key, header []byte) (int64, error) {
	n, err := crypto.DecryptStream(ctx, dst, src, key, header)
	return n, wrapCryptoError(StageStream, err)
}

// EncryptWriter is an io.WriteCloser producing a chunked ciphertext stream.
// Close emits the final chunk and must be called.
type EncryptWriter struct {
	w *crypto.EncryptWriter
}

// NewEncryptWriter starts a stream into dst under a fresh key and header.
func NewEncryptWriter(dst io.Writer) (*EncryptWriter, error) {
	w, err := crypto.NewEncryptWriter(dst)
	if err != nil {
		return nil, wrapCryptoError(StageStream, err)
	}
	return &EncryptWriter{w: w}, nil
}

// Write implements io.Writer.
func (w *EncryptWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	return n, wrapCryptoError(StageStream, err)
}

// Close emits the final chunk.
func (w *EncryptWriter) Close() error {
	return wrapCryptoError(StageStream, w.w.Close())
}

// Info returns the stream parameters once Close has succeeded.
func (w *EncryptWriter) Info() (*StreamInfo, error) {
	info, err := w.w.Info()
	if err != nil {
		return nil, wrapCryptoError(StageStream, err)
	}
	return info, nil
}

// DecryptReader is an io.Reader over a chunked ciphertext stream. It
// returns io.EOF only after the final chunk authenticates.
type DecryptReader struct {
	r *crypto.DecryptReader
}

// NewDecryptReader prepares to decrypt src.
func NewDecryptReader(src io.Reader, key, header []byte) (*DecryptReader, error) {
	r, err := crypto.NewDecryptReader(src, key, header)
	if err != nil {
		return nil, wrapCryptoError(StageStream, err)
	}
	return &DecryptReader{r: r}, nil
}

// Read implements io.Reader.
func (r *DecryptReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err == io.EOF {
		return n, err
	}
	return n, wrapCryptoError(StageStream, err)
}

// Size returns the plaintext bytes authenticated so far.
func (r *DecryptReader) Size() int64 {
	return r.r.Size()
}
