package crypto

import (
	"context"
	"crypto/cipher"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// StreamInfo carries what a reader needs to decrypt a stream.
type StreamInfo struct {
	Key    []byte
	Header []byte
	Size   int64
}

type streamInfoJSON struct {
	Key    string `json:"key"`
	Header string `json:"header"`
	Size   int64  `json:"size"`
}

// MarshalJSON encodes key and header as hex.
func (s StreamInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(streamInfoJSON{Key: ToHex(s.Key), Header: ToHex(s.Header), Size: s.Size})
}

// UnmarshalJSON decodes the hex form produced by MarshalJSON.
func (s *StreamInfo) UnmarshalJSON(data []byte) error {
	var raw streamInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	key, err := FromHex(raw.Key)
	if err != nil {
		return fmt.Errorf("%w: key: %v", ErrInvalidPayload, err)
	}
	header, err := FromHex(raw.Header)
	if err != nil {
		return fmt.Errorf("%w: header: %v", ErrInvalidPayload, err)
	}
	s.Key, s.Header, s.Size = key, header, raw.Size
	return nil
}

// streamState owns the AEAD and the chunk counter for one direction.
type streamState struct {
	aead    cipher.AEAD
	nonce   [chacha20poly1305.NonceSizeX]byte
	counter uint64
}

func newStreamState(key, header []byte) (*streamState, error) {
	if len(key) != StreamKeySize {
		return nil, fmt.Errorf("%w: stream key must be %d bytes, got %d", ErrInvalidKeySize, StreamKeySize, len(key))
	}
	if len(header) != StreamHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHeaderSize, len(header))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream cipher: %w", err)
	}
	s := &streamState{aead: aead}
	copy(s.nonce[:StreamHeaderSize], header)
	return s, nil
}

// next returns the nonce for the next chunk: header followed by the
// big-endian chunk counter.
func (s *streamState) next() []byte {
	binary.BigEndian.PutUint64(s.nonce[StreamHeaderSize:], s.counter)
	s.counter++
	return s.nonce[:]
}

// NewStreamKey returns a fresh random key and header.
func NewStreamKey() (key, header []byte, err error) {
	buf := make([]byte, StreamKeySize+StreamHeaderSize)
	if _, err := io.ReadFull(random(), buf); err != nil {
		return nil, nil, fmt.Errorf("failed to generate stream key: %w", err)
	}
	return buf[:StreamKeySize], buf[StreamKeySize:], nil
}

// EncryptWriter encrypts everything written to it into dst as a chunked
// stream. It holds back one chunk so the last one can be tagged final;
// Close must be called to emit it.
type EncryptWriter struct {
	dst     io.Writer
	state   *streamState
	key     []byte
	header  []byte
	buf     []byte // tag byte followed by pending plaintext
	pending int
	out     []byte
	size    int64
	closed  bool
	err     error
}

// NewEncryptWriter starts a stream under a fresh key and header.
func NewEncryptWriter(dst io.Writer) (*EncryptWriter, error) {
	key, header, err := NewStreamKey()
	if err != nil {
		return nil, err
	}
	state, err := newStreamState(key, header)
	if err != nil {
		return nil, err
	}
	return &EncryptWriter{
		dst:    dst,
		state:  state,
		key:    key,
		header: header,
		buf:    make([]byte, 1+StreamChunkSize),
		out:    make([]byte, 0, StreamCipherChunkSize),
	}, nil
}

// Write buffers p, emitting every full chunk once more data follows it.
func (w *EncryptWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrStreamClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	written := 0
	for len(p) > 0 {
		if w.pending == StreamChunkSize {
			if err := w.flush(tagMessage); err != nil {
				return written, err
			}
		}
		n := copy(w.buf[1+w.pending:], p)
		w.pending += n
		w.size += int64(n)
		written += n
		p = p[n:]
	}
	return written, nil
}

// Close emits the final chunk. The stream is incomplete without it.
func (w *EncryptWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	return w.flush(tagFinal)
}

func (w *EncryptWriter) flush(tag byte) error {
	w.buf[0] = tag
	w.out = w.state.aead.Seal(w.out[:0], w.state.next(), w.buf[:1+w.pending], nil)
	w.pending = 0
	if _, err := w.dst.Write(w.out); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Info returns the key, header and plaintext size. It is only available
// after a successful Close.
func (w *EncryptWriter) Info() (*StreamInfo, error) {
	if !w.closed {
		return nil, ErrStreamNotClosed
	}
	if w.err != nil {
		return nil, w.err
	}
	return &StreamInfo{Key: w.key, Header: w.header, Size: w.size}, nil
}

// DecryptReader authenticates and decrypts a chunked stream. Plaintext is
// released one chunk at a time, only after that chunk verifies. io.EOF is
// returned only after the final chunk.
type DecryptReader struct {
	src   io.Reader
	state *streamState
	in    []byte
	buf   []byte
	plain []byte
	done  bool
	size  int64
	err   error
}

// NewDecryptReader prepares to decrypt src with key and header.
func NewDecryptReader(src io.Reader, key, header []byte) (*DecryptReader, error) {
	state, err := newStreamState(key, header)
	if err != nil {
		return nil, err
	}
	return &DecryptReader{
		src:   src,
		state: state,
		in:    make([]byte, StreamCipherChunkSize),
		buf:   make([]byte, 0, 1+StreamChunkSize),
	}, nil
}

// Read implements io.Reader.
func (r *DecryptReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		if err := r.nextChunk(); err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

// Size returns the number of plaintext bytes authenticated so far.
func (r *DecryptReader) Size() int64 {
	return r.size
}

func (r *DecryptReader) nextChunk() error {
	index := r.state.counter
	n, err := io.ReadFull(r.src, r.in)
	switch {
	case errors.Is(err, io.EOF):
		return ErrTruncatedStream
	case errors.Is(err, io.ErrUnexpectedEOF):
		// short chunk, must be the final one
	case err != nil:
		return err
	}
	if n < StreamOverhead {
		return fmt.Errorf("%w: chunk %d is %d bytes", ErrTruncatedStream, index, n)
	}

	pt, err := r.state.aead.Open(r.buf[:0], r.state.next(), r.in[:n], nil)
	if err != nil {
		return fmt.Errorf("%w: chunk %d", ErrChunkAuthFailed, index)
	}

	switch pt[0] {
	case tagFinal:
		var extra [1]byte
		k, err := io.ReadFull(r.src, extra[:])
		if k > 0 {
			return ErrTrailingData
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		r.done = true
	case tagMessage:
		if n < StreamCipherChunkSize {
			return fmt.Errorf("%w: short chunk %d without final tag", ErrTruncatedStream, index)
		}
	default:
		return fmt.Errorf("%w: chunk %d has unknown tag 0x%02x", ErrChunkAuthFailed, index, pt[0])
	}

	r.plain = pt[1:]
	r.size += int64(len(r.plain))
	return nil
}

// EncryptStream encrypts src into dst under a fresh key and header and
// returns them with the plaintext size. ctx is checked between chunks.
func EncryptStream(ctx context.Context, dst io.Writer, src io.Reader) (*StreamInfo, error) {
	w, err := NewEncryptWriter(dst)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, StreamChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return nil, err
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("failed to read plaintext: %w", rerr)
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.Info()
}

// DecryptStream decrypts src into dst and returns the plaintext size.
// Nothing from a chunk is written unless it authenticates, and decryption
// stops at the first failure.
func DecryptStream(ctx context.Context, dst io.Writer, src io.Reader, key, header []byte) (int64, error) {
	r, err := NewDecryptReader(src, key, header)
	if err != nil {
		return 0, err
	}

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if len(r.plain) == 0 {
			if r.done {
				return written, nil
			}
			if err := r.nextChunk(); err != nil {
				r.err = err
				return written, err
			}
			continue
		}
		n, err := dst.Write(r.plain)
		written += int64(n)
		r.plain = r.plain[n:]
		if err != nil {
			return written, err
		}
	}
}
