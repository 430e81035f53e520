package sealmail

import (
	"context"
	"io"
)

// EnvelopeDelivery is one sealed envelope addressed to a capable recipient.
type EnvelopeDelivery struct {
	Address    string
	AccountKey []byte
	Envelope   []byte
}

// ReceivedEnvelope is an envelope waiting in the local mailbox.
type ReceivedEnvelope struct {
	ID       string
	Envelope []byte
}

// ExternalMail is a cleartext copy for recipients without a mailbox key.
// Recipients lists the delivery targets; To and Cc are display headers.
// Bcc recipients only ever appear in Recipients.
type ExternalMail struct {
	Recipients  []string
	From        []Address
	To          []Address
	Cc          []Address
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Transport submits and fetches envelopes and relays external mail.
type Transport interface {
	SendEnvelopes(ctx context.Context, deliveries []EnvelopeDelivery) error
	SendExternal(ctx context.Context, mail *ExternalMail) error
	FetchEnvelopes(ctx context.Context) ([]ReceivedEnvelope, error)
	MarkSynced(ctx context.Context, ids []string) error
}

// Directory maps addresses to mailbox box public keys. Addresses without a
// mailbox are absent from the result.
type Directory interface {
	ResolveAddresses(ctx context.Context, addrs []string) (map[string][]byte, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, addrs []string) (map[string][]byte, error)

// ResolveAddresses implements Directory.
func (f DirectoryFunc) ResolveAddresses(ctx context.Context, addrs []string) (map[string][]byte, error) {
	return f(ctx, addrs)
}

// WriteOptions controls how Storage writes a file.
type WriteOptions struct {
	// Encrypted requests stream cipher encryption; the returned StoredFile
	// then carries the key and header.
	Encrypted   bool
	ContentType string
}

// StoredFile describes content written through Storage.
type StoredFile struct {
	Path        string
	Name        string
	Locator     string
	Hash        string
	ContentType string
	Size        int64
	Key         []byte
	Header      []byte
}

// ContentPointer locates stored ciphertext and carries what decrypts it.
type ContentPointer struct {
	Locator string
	Hash    string
	Name    string
	Size    int64
	Key     []byte
	Header  []byte
}

// Storage persists message content.
type Storage interface {
	WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) (*StoredFile, error)
	// FetchBatch calls fn with the stored ciphertext of each pointer.
	FetchBatch(ctx context.Context, ptrs []ContentPointer, fn func(ContentPointer, io.Reader) error) error
}

// KeyCache remembers recipient box keys between sends.
type KeyCache interface {
	Get(addr string) ([]byte, bool)
	Put(addr string, key []byte) error
}

// SignerLookup returns the signing public key of the account owning a box
// public key.
type SignerLookup interface {
	SigningKey(ctx context.Context, boxPublic []byte) ([]byte, error)
}

// SignerLookupFunc adapts a function to SignerLookup.
type SignerLookupFunc func(ctx context.Context, boxPublic []byte) ([]byte, error)

// SigningKey implements SignerLookup.
func (f SignerLookupFunc) SigningKey(ctx context.Context, boxPublic []byte) ([]byte, error) {
	return f(ctx, boxPublic)
}
