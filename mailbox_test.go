package sealmail

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeTransport struct {
	mu         sync.Mutex
	deliveries []EnvelopeDelivery
	external   []*ExternalMail
	inbox      []ReceivedEnvelope
	synced     []string
	syncCalls  int
	syncErrs   []error
	sendErr    error
	fetchErr   error
}

func (f *fakeTransport) SendEnvelopes(_ context.Context, d []EnvelopeDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.deliveries = append(f.deliveries, d...)
	return nil
}

func (f *fakeTransport) SendExternal(_ context.Context, m *ExternalMail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.external = append(f.external, m)
	return nil
}

func (f *fakeTransport) FetchEnvelopes(context.Context) ([]ReceivedEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.inbox, nil
}

func (f *fakeTransport) MarkSynced(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	if len(f.syncErrs) > 0 {
		err := f.syncErrs[0]
		f.syncErrs = f.syncErrs[1:]
		return err
	}
	f.synced = append(f.synced, ids...)
	return nil
}

// memStorage keeps ciphertext in memory and remembers the plaintext it was
// handed so tests can inspect what was stored.
type memStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	plaintext [][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) (*StoredFile, error) {
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	info, err := EncryptStream(ctx, &buf, bytes.NewReader(plain))
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(buf.Bytes())

	s.mu.Lock()
	defer s.mu.Unlock()
	locator := fmt.Sprintf("mem/%d", len(s.objects))
	s.objects[locator] = buf.Bytes()
	s.plaintext = append(s.plaintext, plain)
	return &StoredFile{
		Path:        path,
		Name:        path,
		Locator:     locator,
		Hash:        hex.EncodeToString(sum[:]),
		ContentType: opts.ContentType,
		Size:        info.Size,
		Key:         info.Key,
		Header:      info.Header,
	}, nil
}

func (s *memStorage) FetchBatch(_ context.Context, ptrs []ContentPointer, fn func(ContentPointer, io.Reader) error) error {
	for _, p := range ptrs {
		s.mu.Lock()
		data, ok := s.objects[p.Locator]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("no object %s", p.Locator)
		}
		if err := fn(p, bytes.NewReader(data)); err != nil {
			return err
		}
	}
	return nil
}

type testEnv struct {
	sender    *KeyPair
	bob       *KeyPair
	carol     *KeyPair
	transport *fakeTransport
	storage   *memStorage
	registry  *prometheus.Registry
	client    *Client
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		sender:    mustKeys(t),
		bob:       mustKeys(t),
		carol:     mustKeys(t),
		transport: &fakeTransport{},
		storage:   newMemStorage(),
		registry:  prometheus.NewRegistry(),
	}
	directory := DirectoryFunc(func(_ context.Context, addrs []string) (map[string][]byte, error) {
		known := map[string][]byte{
			"bob@example.com":   env.bob.BoxPublicKey,
			"carol@example.com": env.carol.BoxPublicKey,
		}
		out := make(map[string][]byte)
		for _, a := range addrs {
			if k, ok := known[a]; ok {
				out[a] = k
			}
		}
		return out, nil
	})

	base := []Option{
		WithKeys(env.sender),
		WithTransport(env.transport),
		WithStorage(env.storage),
		WithDirectory(directory),
		WithMetricsRegisterer(env.registry),
	}
	client, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	env.client = client
	return env
}

func mustKeys(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := MakeKeys("")
	if err != nil {
		t.Fatalf("MakeKeys() error = %v", err)
	}
	return kp
}

func addrs(list ...string) []Address {
	out := make([]Address, len(list))
	for i, a := range list {
		out[i] = Address{Address: a}
	}
	return out
}

func testMessage() *Message {
	return &Message{
		From:     addrs("alice@example.com"),
		To:       addrs("bob@example.com"),
		Subject:  "quarterly numbers",
		TextBody: "see attached",
		Attachments: []Attachment{
			{Filename: "q3.csv", ContentType: "text/csv", Content: []byte("a,b\n1,2\n")},
		},
	}
}

func TestSend_CapableRecipients(t *testing.T) {
	env := newTestEnv(t)
	msg := testMessage()
	msg.Cc = addrs("Carol@Example.com")

	result, err := env.client.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Envelopes != 2 {
		t.Errorf("Envelopes = %d, want 2", result.Envelopes)
	}
	if len(result.Failed) != 0 || len(result.ExternalRecipients) != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.File == nil || result.File.ContentType != "application/json" {
		t.Fatalf("File = %+v", result.File)
	}
	if len(env.transport.external) != 0 {
		t.Error("no external mail expected")
	}

	byAddr := map[string]*KeyPair{"bob@example.com": env.bob, "carol@example.com": env.carol}
	for _, d := range env.transport.deliveries {
		kp := byAddr[d.Address]
		if kp == nil {
			t.Fatalf("unexpected delivery to %s", d.Address)
		}
		if !bytes.Equal(d.AccountKey, kp.BoxPublicKey) {
			t.Errorf("AccountKey for %s does not match", d.Address)
		}
		opened, err := OpenEnvelope(d.Envelope, kp.BoxPrivateKey)
		if err != nil {
			t.Fatalf("OpenEnvelope(%s) error = %v", d.Address, err)
		}
		if err := opened.Verify(env.sender.SigningPublicKey); err != nil {
			t.Errorf("Verify() error = %v", err)
		}
		if opened.Metadata.Owner != "alice@example.com" {
			t.Errorf("Owner = %q", opened.Metadata.Owner)
		}
		if opened.Metadata.Locator != result.File.Locator {
			t.Errorf("Locator = %q, want %q", opened.Metadata.Locator, result.File.Locator)
		}
	}

	if got := testutil.ToFloat64(env.client.metrics.EnvelopesSealed); got != 2 {
		t.Errorf("sealed metric = %v, want 2", got)
	}
}

func TestSend_StoredContentDecrypts(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.client.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	opened, err := OpenEnvelope(env.transport.deliveries[0].Envelope, env.bob.BoxPrivateKey)
	if err != nil {
		t.Fatalf("OpenEnvelope() error = %v", err)
	}

	var got Message
	err = env.client.FetchContent(context.Background(), []MailMetadata{opened.Metadata}, func(meta MailMetadata, r io.Reader) error {
		if meta.Locator != opened.Metadata.Locator {
			t.Errorf("callback metadata locator = %q", meta.Locator)
		}
		return json.NewDecoder(r).Decode(&got)
	})
	if err != nil {
		t.Fatalf("FetchContent() error = %v", err)
	}
	if got.Subject != "quarterly numbers" || len(got.Attachments) != 1 {
		t.Errorf("decrypted message = %+v", got)
	}
	if got.ID == "" {
		t.Error("stored message should carry an id")
	}
}

func TestSend_BccNeverVisible(t *testing.T) {
	env := newTestEnv(t)
	msg := testMessage()
	msg.To = addrs("bob@example.com", "dave@elsewhere.test")
	msg.Bcc = addrs("carol@example.com", "eve@elsewhere.test", "frank@elsewhere.test")

	result, err := env.client.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Envelopes != 2 {
		t.Errorf("Envelopes = %d, want 2", result.Envelopes)
	}

	for _, plain := range env.storage.plaintext {
		for _, hidden := range []string{"carol@example.com", "eve@elsewhere.test", "frank@elsewhere.test"} {
			if bytes.Contains(plain, []byte(hidden)) {
				t.Errorf("stored message reveals bcc %s", hidden)
			}
		}
	}

	// one copy for visible externals, one per external bcc
	if len(env.transport.external) != 3 {
		t.Fatalf("external sends = %d, want 3", len(env.transport.external))
	}
	visible := env.transport.external[0]
	if strings.Join(visible.Recipients, ",") != "dave@elsewhere.test" {
		t.Errorf("visible recipients = %v", visible.Recipients)
	}
	for i, want := range []string{"eve@elsewhere.test", "frank@elsewhere.test"} {
		m := env.transport.external[i+1]
		if len(m.Recipients) != 1 || m.Recipients[0] != want {
			t.Errorf("bcc copy %d recipients = %v, want [%s]", i, m.Recipients, want)
		}
	}
	for _, m := range env.transport.external {
		for _, a := range append(append([]Address{}, m.To...), m.Cc...) {
			if strings.Contains(a.Address, "eve") || strings.Contains(a.Address, "frank") || strings.Contains(a.Address, "carol") {
				t.Errorf("external headers reveal bcc %s", a.Address)
			}
		}
	}
	if len(msg.Bcc) != 3 {
		t.Error("caller's message should not be modified")
	}
}

func TestSend_ExternalOnly(t *testing.T) {
	env := newTestEnv(t)
	msg := testMessage()
	msg.To = addrs("dave@elsewhere.test")

	result, err := env.client.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.File != nil || result.Envelopes != 0 {
		t.Errorf("nothing should be stored or sealed: %+v", result)
	}
	if len(result.ExternalRecipients) != 1 {
		t.Errorf("ExternalRecipients = %v", result.ExternalRecipients)
	}
	if len(env.storage.plaintext) != 0 {
		t.Error("storage should not be written")
	}
	if got := testutil.ToFloat64(env.client.metrics.ExternalSends); got != 1 {
		t.Errorf("external metric = %v, want 1", got)
	}
	if env.transport.external[0].Attachments[0].Filename != "q3.csv" {
		t.Error("attachments should be inlined in the external copy")
	}
}

func TestSend_ExternalDeliveryDisabled(t *testing.T) {
	t.Run("some capable", func(t *testing.T) {
		env := newTestEnv(t, WithExternalDelivery(false))
		msg := testMessage()
		msg.Cc = addrs("dave@elsewhere.test")

		result, err := env.client.Send(context.Background(), msg)
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if result.Envelopes != 1 {
			t.Errorf("Envelopes = %d, want 1", result.Envelopes)
		}
		if len(result.Skipped) != 1 || result.Skipped[0] != "dave@elsewhere.test" {
			t.Errorf("Skipped = %v", result.Skipped)
		}
		if len(env.transport.external) != 0 {
			t.Error("no external mail expected")
		}
	})

	t.Run("none capable", func(t *testing.T) {
		env := newTestEnv(t, WithExternalDelivery(false))
		msg := testMessage()
		msg.To = addrs("dave@elsewhere.test")

		_, err := env.client.Send(context.Background(), msg)
		if !errors.Is(err, ErrDirectory) || !errors.Is(err, ErrNoCapableRecipients) {
			t.Errorf("Send() error = %v, want DirectoryError wrapping ErrNoCapableRecipients", err)
		}
	})
}

func TestSend_PerRecipientFailure(t *testing.T) {
	env := newTestEnv(t)
	// a stale cache entry that no longer parses as a box key
	badKey := make([]byte, 32)
	if err := env.client.resolver.cache.Put("carol@example.com", badKey); err != nil {
		t.Fatal(err)
	}
	msg := testMessage()
	msg.Cc = addrs("carol@example.com")

	result, err := env.client.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Envelopes != 1 || len(env.transport.deliveries) != 1 {
		t.Errorf("Envelopes = %d, want 1", result.Envelopes)
	}
	if len(result.Failed) != 1 || result.Failed[0].Address != "carol@example.com" {
		t.Fatalf("Failed = %v", result.Failed)
	}
	if !errors.Is(result.Failed[0], ErrValidation) {
		t.Errorf("failure = %v, want ErrValidation", result.Failed[0])
	}
}

func TestSend_TransportError(t *testing.T) {
	env := newTestEnv(t)
	env.transport.sendErr = errors.New("connection reset")

	_, err := env.client.Send(context.Background(), testMessage())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Send() error = %v, want ErrTransport", err)
	}
}

func TestSend_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		msg  *Message
	}{
		{"nil", nil},
		{"no sender", &Message{To: addrs("bob@example.com")}},
		{"no recipients", &Message{From: addrs("alice@example.com")}},
		{"bad recipient", &Message{From: addrs("alice@example.com"), To: addrs("not an address")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.client.Send(context.Background(), tt.msg)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Send() error = %v, want ErrValidation", err)
			}
		})
	}
	if len(env.transport.deliveries)+len(env.transport.external) != 0 {
		t.Error("nothing should be sent for invalid messages")
	}
}

func TestSend_MissingCollaborators(t *testing.T) {
	kp := mustKeys(t)

	client, err := New(WithKeys(kp))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Send(context.Background(), testMessage()); !errors.Is(err, ErrMissingTransport) {
		t.Errorf("Send() error = %v, want ErrMissingTransport", err)
	}

	bob := mustKeys(t)
	client, err = New(
		WithKeys(kp),
		WithTransport(&fakeTransport{}),
		WithDirectory(DirectoryFunc(func(context.Context, []string) (map[string][]byte, error) {
			return map[string][]byte{"bob@example.com": bob.BoxPublicKey}, nil
		})),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Send(context.Background(), testMessage()); !errors.Is(err, ErrMissingStorage) {
		t.Errorf("Send() error = %v, want ErrMissingStorage", err)
	}
}

func TestSend_OwnerOption(t *testing.T) {
	env := newTestEnv(t, WithOwner("account-7"))
	if _, err := env.client.Send(context.Background(), testMessage()); err != nil {
		t.Fatal(err)
	}
	opened, err := OpenEnvelope(env.transport.deliveries[0].Envelope, env.bob.BoxPrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if opened.Metadata.Owner != "account-7" {
		t.Errorf("Owner = %q, want account-7", opened.Metadata.Owner)
	}
}

// sealTo seals fixed metadata from sender to recipient.
func sealTo(t *testing.T, sender *KeyPair, recipient *KeyPair) []byte {
	t.Helper()
	meta := &MailMetadata{
		Owner:   "alice@example.com",
		Type:    MetadataTypeEmail,
		Key:     strings.Repeat("11", 32),
		Header:  strings.Repeat("22", 16),
		Locator: "mem/0",
		Hash:    "abc",
		Size:    10,
	}
	env, err := SealMetadata(meta, recipient.BoxPublicKey, sender)
	if err != nil {
		t.Fatalf("SealMetadata() error = %v", err)
	}
	return env
}

func TestReceiveMail(t *testing.T) {
	env := newTestEnv(t)
	// the client account receives here
	me := env.sender
	stranger := mustKeys(t)

	good := sealTo(t, env.bob, me)
	tampered := sealTo(t, env.bob, me)
	tampered[len(tampered)-1] ^= 0x01
	env.transport.inbox = []ReceivedEnvelope{
		{ID: "1", Envelope: good},
		{ID: "2", Envelope: tampered},
		{ID: "3", Envelope: sealTo(t, env.bob, stranger)},
		{ID: "4", Envelope: nil},
	}

	result, err := env.client.ReceiveMail(context.Background())
	if err != nil {
		t.Fatalf("ReceiveMail() error = %v", err)
	}
	if len(result.Envelopes) != 1 || result.Envelopes[0].ID != "1" {
		t.Fatalf("Envelopes = %+v", result.Envelopes)
	}
	if result.Envelopes[0].Verified {
		t.Error("Verified should be false without a signer lookup")
	}
	if !bytes.Equal(result.Envelopes[0].SenderBoxKey, env.bob.BoxPublicKey) {
		t.Error("SenderBoxKey mismatch")
	}
	if len(result.Failed) != 3 {
		t.Fatalf("Failed = %d, want 3", len(result.Failed))
	}
	for _, f := range result.Failed {
		if !errors.Is(f, ErrCrypto) {
			t.Errorf("failure %s = %v, want ErrCrypto", f.ID, f.Err)
		}
	}
	if got := testutil.ToFloat64(env.client.metrics.EnvelopesOpened); got != 1 {
		t.Errorf("opened metric = %v, want 1", got)
	}
}

func TestReceiveMail_SignerLookup(t *testing.T) {
	var env *testEnv
	impostor := mustKeys(t)
	lookup := SignerLookupFunc(func(_ context.Context, boxPublic []byte) ([]byte, error) {
		switch {
		case bytes.Equal(boxPublic, env.bob.BoxPublicKey):
			return env.bob.SigningPublicKey, nil
		case bytes.Equal(boxPublic, env.carol.BoxPublicKey):
			// carol's box key is claimed by someone else's signing key
			return impostor.SigningPublicKey, nil
		}
		return nil, errors.New("unknown sender")
	})
	env = newTestEnv(t, WithSignerLookup(lookup))
	stranger := mustKeys(t)

	env.transport.inbox = []ReceivedEnvelope{
		{ID: "bob", Envelope: sealTo(t, env.bob, env.sender)},
		{ID: "carol", Envelope: sealTo(t, env.carol, env.sender)},
		{ID: "stranger", Envelope: sealTo(t, stranger, env.sender)},
	}

	result, err := env.client.ReceiveMail(context.Background())
	if err != nil {
		t.Fatalf("ReceiveMail() error = %v", err)
	}
	if len(result.Envelopes) != 1 || !result.Envelopes[0].Verified {
		t.Fatalf("Envelopes = %+v", result.Envelopes)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("Failed = %d, want 2", len(result.Failed))
	}
	if !errors.Is(result.Failed[0], ErrCrypto) {
		t.Errorf("carol failure = %v, want ErrCrypto", result.Failed[0])
	}
	if !errors.Is(result.Failed[1], ErrDirectory) {
		t.Errorf("stranger failure = %v, want ErrDirectory", result.Failed[1])
	}
}

func TestReceiveMail_FetchError(t *testing.T) {
	env := newTestEnv(t)
	env.transport.fetchErr = errors.New("offline")

	if _, err := env.client.ReceiveMail(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("ReceiveMail() error = %v, want ErrTransport", err)
	}
}

func TestMarkSynced(t *testing.T) {
	env := newTestEnv(t)

	if err := env.client.MarkSynced(context.Background(), nil); err != nil {
		t.Errorf("MarkSynced(nil) error = %v", err)
	}
	if err := env.client.MarkSynced(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	if strings.Join(env.transport.synced, ",") != "a,b" {
		t.Errorf("synced = %v", env.transport.synced)
	}
}

func TestFetchContent_Tampered(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.client.Send(context.Background(), testMessage()); err != nil {
		t.Fatal(err)
	}
	opened, err := OpenEnvelope(env.transport.deliveries[0].Envelope, env.bob.BoxPrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	obj := env.storage.objects[opened.Metadata.Locator]
	obj[len(obj)/2] ^= 0x01

	err = env.client.FetchContent(context.Background(), []MailMetadata{opened.Metadata}, func(_ MailMetadata, r io.Reader) error {
		_, err := io.ReadAll(r)
		return err
	})
	if !errors.Is(err, ErrCrypto) {
		t.Errorf("FetchContent() error = %v, want ErrCrypto", err)
	}
}

func TestFetchContent_MissingStorage(t *testing.T) {
	client, err := New(WithKeys(mustKeys(t)))
	if err != nil {
		t.Fatal(err)
	}
	err = client.FetchContent(context.Background(), nil, func(MailMetadata, io.Reader) error { return nil })
	if !errors.Is(err, ErrMissingStorage) {
		t.Errorf("FetchContent() error = %v, want ErrMissingStorage", err)
	}
}
