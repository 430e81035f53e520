package drive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	sealmail "github.com/sealmail/client-go"
)

func newTestDrive(t *testing.T) *Drive {
	t.Helper()
	d, err := New(t.TempDir())
	require.NoError(t, err)
	return d
}

func pointerFor(f *sealmail.StoredFile) sealmail.ContentPointer {
	return sealmail.ContentPointer{
		Locator: f.Locator,
		Hash:    f.Hash,
		Name:    f.Name,
		Size:    f.Size,
		Key:     f.Key,
		Header:  f.Header,
	}
}

func TestDrive_EncryptedRoundTrip(t *testing.T) {
	d := newTestDrive(t)
	ctx := context.Background()
	plaintext := bytes.Repeat([]byte("sealed mail "), 20000)

	file, err := d.WriteFile(ctx, "mail/hello.json", bytes.NewReader(plaintext), sealmail.WriteOptions{
		Encrypted:   true,
		ContentType: "application/json",
	})
	require.NoError(t, err)
	require.Equal(t, "mail/hello.json", file.Path)
	require.Equal(t, int64(len(plaintext)), file.Size)
	require.Len(t, file.Key, sealmail.StreamKeySize)
	require.Len(t, file.Header, sealmail.StreamHeaderSize)
	require.True(t, strings.HasSuffix(file.Name, ".json"))
	require.Len(t, file.Hash, 64)

	stored, err := os.ReadFile(filepath.Join(d.Root(), filepath.FromSlash(file.Locator)))
	require.NoError(t, err)
	require.False(t, bytes.Contains(stored, []byte("sealed mail")))

	var got []byte
	err = d.FetchBatch(ctx, []sealmail.ContentPointer{pointerFor(file)}, func(ptr sealmail.ContentPointer, r io.Reader) error {
		dr, err := sealmail.NewDecryptReader(r, ptr.Key, ptr.Header)
		if err != nil {
			return err
		}
		got, err = io.ReadAll(dr)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDrive_PlainWrite(t *testing.T) {
	d := newTestDrive(t)
	ctx := context.Background()

	file, err := d.WriteFile(ctx, "notes.txt", strings.NewReader("hello"), sealmail.WriteOptions{})
	require.NoError(t, err)
	require.Nil(t, file.Key)
	require.Equal(t, int64(5), file.Size)

	err = d.FetchBatch(ctx, []sealmail.ContentPointer{pointerFor(file)}, func(_ sealmail.ContentPointer, r io.Reader) error {
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, "hello", string(b))
		return nil
	})
	require.NoError(t, err)
}

func TestDrive_HashMismatch(t *testing.T) {
	d := newTestDrive(t)
	ctx := context.Background()

	file, err := d.WriteFile(ctx, "a.bin", strings.NewReader("payload"), sealmail.WriteOptions{Encrypted: true})
	require.NoError(t, err)

	full := filepath.Join(d.Root(), filepath.FromSlash(file.Locator))
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	data[len(data)/2] ^= 0x01
	require.NoError(t, os.WriteFile(full, data, 0o600))

	called := false
	err = d.FetchBatch(ctx, []sealmail.ContentPointer{pointerFor(file)}, func(sealmail.ContentPointer, io.Reader) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrHashMismatch)
	require.False(t, called)
}

func TestDrive_InvalidLocator(t *testing.T) {
	d := newTestDrive(t)

	for _, loc := range []string{"", "../etc/passwd", "/abs", "objects/../../x", "other/ab/cd"} {
		err := d.FetchBatch(context.Background(), []sealmail.ContentPointer{{Locator: loc}}, func(sealmail.ContentPointer, io.Reader) error {
			return nil
		})
		require.ErrorIs(t, err, ErrInvalidLocator, loc)
	}
}

func TestDrive_NotFound(t *testing.T) {
	d := newTestDrive(t)
	err := d.FetchBatch(context.Background(), []sealmail.ContentPointer{{Locator: "objects/ab/abcd"}}, func(sealmail.ContentPointer, io.Reader) error {
		return nil
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDrive_CallbackError(t *testing.T) {
	d := newTestDrive(t)
	ctx := context.Background()
	file, err := d.WriteFile(ctx, "a.txt", strings.NewReader("x"), sealmail.WriteOptions{})
	require.NoError(t, err)

	sentinel := errors.New("stop")
	err = d.FetchBatch(ctx, []sealmail.ContentPointer{pointerFor(file), pointerFor(file)}, func(sealmail.ContentPointer, io.Reader) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
}

func TestDrive_Canceled(t *testing.T) {
	d := newTestDrive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.WriteFile(ctx, "a.txt", strings.NewReader("x"), sealmail.WriteOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDrive_ClientSendStoresMessage(t *testing.T) {
	d := newTestDrive(t)
	sender, err := sealmail.MakeKeys("")
	require.NoError(t, err)
	recipient, err := sealmail.MakeKeys("")
	require.NoError(t, err)

	tr := &recordingTransport{}
	client, err := sealmail.New(
		sealmail.WithKeys(sender),
		sealmail.WithStorage(d),
		sealmail.WithTransport(tr),
		sealmail.WithDirectory(sealmail.DirectoryFunc(func(_ context.Context, addrs []string) (map[string][]byte, error) {
			return map[string][]byte{"bob@example.com": recipient.BoxPublicKey}, nil
		})),
	)
	require.NoError(t, err)
	defer client.Close()

	res, err := client.Send(context.Background(), &sealmail.Message{
		From:     []sealmail.Address{{Address: "alice@example.com"}},
		To:       []sealmail.Address{{Address: "bob@example.com"}},
		Subject:  "drive",
		TextBody: "stored on disk",
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Envelopes)
	require.Len(t, tr.deliveries, 1)

	opened, err := sealmail.OpenEnvelope(tr.deliveries[0].Envelope, recipient.BoxPrivateKey)
	require.NoError(t, err)

	var body []byte
	err = client.FetchContent(context.Background(), []sealmail.MailMetadata{opened.Metadata}, func(_ sealmail.MailMetadata, r io.Reader) error {
		body, err = io.ReadAll(r)
		return err
	})
	require.NoError(t, err)
	require.Contains(t, string(body), "stored on disk")
}

type recordingTransport struct {
	deliveries []sealmail.EnvelopeDelivery
}

func (r *recordingTransport) SendEnvelopes(_ context.Context, d []sealmail.EnvelopeDelivery) error {
	r.deliveries = append(r.deliveries, d...)
	return nil
}

func (r *recordingTransport) SendExternal(context.Context, *sealmail.ExternalMail) error {
	return nil
}

func (r *recordingTransport) FetchEnvelopes(context.Context) ([]sealmail.ReceivedEnvelope, error) {
	return nil, nil
}

func (r *recordingTransport) MarkSynced(context.Context, []string) error {
	return nil
}
