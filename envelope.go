package sealmail

import (
	"github.com/sealmail/client-go/internal/crypto"
)

// MailMetadata points at stored ciphertext: owner, type, stream key and
// header (hex), locator, content hash, name and plaintext size.
type MailMetadata = crypto.MailMetadata

// MetadataTypeEmail is the metadata type of a stored message.
const MetadataTypeEmail = "email"

// NewMailMetadata builds and validates the pointer to an encrypted file.
func NewMailMetadata(owner string, file *StoredFile) (*MailMetadata, error) {
	if file == nil {
		return nil, &ValidationError{Field: "metadata", Errors: []string{"nil stored file"}}
	}
	meta := &MailMetadata{
		Owner:   owner,
		Type:    MetadataTypeEmail,
		Key:     crypto.ToHex(file.Key),
		Header:  crypto.ToHex(file.Header),
		Locator: file.Locator,
		Hash:    file.Hash,
		Name:    file.Name,
		Size:    file.Size,
	}
	if err := meta.Validate(); err != nil {
		return nil, wrapCryptoError("metadata", err)
	}
	return meta, nil
}

// ContentPointerFor converts metadata back to a storage pointer.
func ContentPointerFor(meta *MailMetadata) (ContentPointer, error) {
	key, header, err := meta.StreamKey()
	if err != nil {
		return ContentPointer{}, wrapCryptoError("metadata", err)
	}
	return ContentPointer{
		Locator: meta.Locator,
		Hash:    meta.Hash,
		Name:    meta.Name,
		Size:    meta.Size,
		Key:     key,
		Header:  header,
	}, nil
}

// SealMetadata signs meta with the sender's signing key, encrypts it from
// the sender's box key to the recipient and seals the result anonymously.
// Only the recipient can open it, and the envelope reveals no sender.
func SealMetadata(meta *MailMetadata, recipientBoxPublic []byte, sender *KeyPair) ([]byte, error) {
	envelope, err := crypto.SealMetadata(meta, recipientBoxPublic, sender)
	if err != nil {
		return nil, wrapCryptoError(StageSeal, err)
	}
	return envelope, nil
}

// OpenedEnvelope is a decrypted envelope. Verified is false until Verify
// succeeds against the sender's signing key.
type OpenedEnvelope struct {
	// ID is the transport identifier, empty when opened directly.
	ID           string
	Metadata     MailMetadata
	Signature    []byte
	SenderBoxKey []byte
	Verified     bool
}

// OpenEnvelope opens an envelope with the recipient's box private key. The
// metadata signature is not checked; see OpenedEnvelope.Verify.
func OpenEnvelope(envelope, recipientBoxPrivate []byte) (*OpenedEnvelope, error) {
	opened, err := crypto.OpenEnvelope(envelope, recipientBoxPrivate)
	if err != nil {
		return nil, wrapCryptoError(StageOpen, err)
	}
	return &OpenedEnvelope{
		Metadata:     opened.Metadata,
		Signature:    opened.Signature,
		SenderBoxKey: opened.SenderBoxKey,
	}, nil
}

// Verify checks the metadata signature against signingPublic.
func (o *OpenedEnvelope) Verify(signingPublic []byte) error {
	inner := crypto.OpenedEnvelope{
		Metadata:     o.Metadata,
		Signature:    o.Signature,
		SenderBoxKey: o.SenderBoxKey,
	}
	if err := inner.Verify(signingPublic); err != nil {
		o.Verified = false
		return wrapCryptoError(StageVerify, err)
	}
	o.Verified = true
	return nil
}

// EncodeEnvelope returns the hex wire form of an envelope.
func EncodeEnvelope(envelope []byte) string {
	return crypto.ToHex(envelope)
}

// DecodeEnvelope parses the hex wire form of an envelope.
func DecodeEnvelope(s string) ([]byte, error) {
	b, err := crypto.FromHex(s)
	if err != nil {
		return nil, &ValidationError{Field: "envelope", Errors: []string{err.Error()}, Err: err}
	}
	return b, nil
}
