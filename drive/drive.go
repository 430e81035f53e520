// Package drive is a local filesystem Storage for sealmail. Content is
// stream-encrypted on write and stored content-addressed by the BLAKE3 hash
// of its ciphertext.
package drive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	sealmail "github.com/sealmail/client-go"
)

const objectsDir = "objects"

var (
	// ErrHashMismatch is returned when stored ciphertext no longer matches
	// its recorded hash.
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrInvalidLocator is returned for locators outside the drive.
	ErrInvalidLocator = errors.New("invalid locator")

	// ErrNotFound is returned when a locator names no stored object.
	ErrNotFound = errors.New("object not found")
)

// Drive stores files under a root directory.
type Drive struct {
	root   string
	logger zerolog.Logger
}

// Option configures a Drive.
type Option func(*Drive)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Drive) {
		d.logger = logger
	}
}

// New opens a drive rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Drive, error) {
	d := &Drive{root: dir, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	if err := os.MkdirAll(filepath.Join(dir, objectsDir), 0o700); err != nil {
		return nil, fmt.Errorf("create drive: %w", err)
	}
	return d, nil
}

// Root returns the drive directory.
func (d *Drive) Root() string {
	return d.root
}

// WriteFile implements sealmail.Storage. p is the logical path recorded in
// the result; the object itself is named by its hash.
func (d *Drive) WriteFile(ctx context.Context, p string, r io.Reader, opts sealmail.WriteOptions) (*sealmail.StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(d.root, objectsDir), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hasher := blake3.New()
	out := io.MultiWriter(tmp, hasher)
	src := &contextReader{ctx: ctx, r: r}

	file := &sealmail.StoredFile{
		Path:        p,
		Name:        uuid.NewString() + path.Ext(p),
		ContentType: opts.ContentType,
	}

	if opts.Encrypted {
		w, err := sealmail.NewEncryptWriter(out)
		if err != nil {
			return nil, err
		}
		n, err := io.Copy(w, src)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s: %w", p, err)
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		info, err := w.Info()
		if err != nil {
			return nil, err
		}
		file.Size = n
		file.Key = info.Key
		file.Header = info.Header
	} else {
		n, err := io.Copy(out, src)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", p, err)
		}
		file.Size = n
	}

	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close object: %w", err)
	}

	file.Hash = hex.EncodeToString(hasher.Sum(nil))
	file.Locator = locatorFor(file.Hash)

	dst := filepath.Join(d.root, filepath.FromSlash(file.Locator))
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("commit object: %w", err)
	}

	d.logger.Debug().
		Str("locator", file.Locator).
		Int64("size", file.Size).
		Bool("encrypted", opts.Encrypted).
		Msg("stored file")

	return file, nil
}

// FetchBatch implements sealmail.Storage. Each object's hash is checked
// before fn sees any of its bytes.
func (d *Drive) FetchBatch(ctx context.Context, ptrs []sealmail.ContentPointer, fn func(sealmail.ContentPointer, io.Reader) error) error {
	for _, ptr := range ptrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.fetch(ctx, ptr, fn); err != nil {
			return fmt.Errorf("fetch %s: %w", ptr.Locator, err)
		}
	}
	return nil
}

func (d *Drive) fetch(ctx context.Context, ptr sealmail.ContentPointer, fn func(sealmail.ContentPointer, io.Reader) error) error {
	full, err := d.resolve(ptr.Locator)
	if err != nil {
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	defer f.Close()

	if ptr.Hash != "" {
		hasher := blake3.New()
		if _, err := io.Copy(hasher, &contextReader{ctx: ctx, r: f}); err != nil {
			return err
		}
		if hex.EncodeToString(hasher.Sum(nil)) != strings.ToLower(ptr.Hash) {
			return ErrHashMismatch
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	return fn(ptr, &contextReader{ctx: ctx, r: f})
}

func (d *Drive) resolve(locator string) (string, error) {
	clean := path.Clean(locator)
	if locator == "" || path.IsAbs(clean) || clean != locator || !strings.HasPrefix(clean, objectsDir+"/") {
		return "", ErrInvalidLocator
	}
	return filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

func locatorFor(hash string) string {
	return path.Join(objectsDir, hash[:2], hash)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
