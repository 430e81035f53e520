package crypto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MailMetadata points at stored ciphertext. It never carries content.
type MailMetadata struct {
	Owner   string `json:"owner"`
	Type    string `json:"type"`
	Key     string `json:"key"`
	Header  string `json:"header"`
	Locator string `json:"locator"`
	Hash    string `json:"hash"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
}

// Validate checks that the pointer is complete and that key and header
// decode to the stream cipher sizes.
func (m *MailMetadata) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil metadata", ErrInvalidMetadata)
	}
	var missing []string
	if strings.TrimSpace(m.Owner) == "" {
		missing = append(missing, "owner")
	}
	if strings.TrimSpace(m.Locator) == "" {
		missing = append(missing, "locator")
	}
	if strings.TrimSpace(m.Hash) == "" {
		missing = append(missing, "hash")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidMetadata, strings.Join(missing, ", "))
	}
	if m.Size < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidMetadata)
	}
	if key, err := FromHex(m.Key); err != nil || len(key) != StreamKeySize {
		return fmt.Errorf("%w: key must be %d hex-encoded bytes", ErrInvalidMetadata, StreamKeySize)
	}
	if header, err := FromHex(m.Header); err != nil || len(header) != StreamHeaderSize {
		return fmt.Errorf("%w: header must be %d hex-encoded bytes", ErrInvalidMetadata, StreamHeaderSize)
	}
	return nil
}

// StreamKey returns the decoded stream key and header.
func (m *MailMetadata) StreamKey() (key, header []byte, err error) {
	if key, err = FromHex(m.Key); err != nil {
		return nil, nil, fmt.Errorf("%w: key: %v", ErrInvalidMetadata, err)
	}
	if header, err = FromHex(m.Header); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", ErrInvalidMetadata, err)
	}
	return key, header, nil
}

// SignedMetadata is MailMetadata plus the sender's detached signature.
type SignedMetadata struct {
	Sig string `json:"sig"`
	MailMetadata
}

type sealedMessage struct {
	From string `json:"from"`
	Meta string `json:"meta"`
}

// SealMetadata signs meta with the sender's signing key, box-encrypts it
// from the sender to the recipient and seals the result anonymously.
func SealMetadata(meta *MailMetadata, recipientBoxPublic []byte, sender *KeyPair) ([]byte, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateBoxPublicKey(recipientBoxPublic); err != nil {
		return nil, err
	}
	if sender == nil || len(sender.SigningPrivateKey) != SigningPrivateKeySize ||
		len(sender.BoxPrivateKey) != BoxKeySize || len(sender.BoxPublicKey) != BoxKeySize {
		return nil, fmt.Errorf("%w: incomplete sender keys", ErrInvalidKeySize)
	}

	sig, err := SignDetached(meta, sender.SigningPrivateKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(SignedMetadata{Sig: ToHex(sig), MailMetadata: *meta})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	boxed, err := BoxSeal(plaintext, recipientBoxPublic, sender.BoxPrivateKey)
	if err != nil {
		return nil, err
	}

	wrapped, err := json.Marshal(sealedMessage{
		From: ToHex(sender.BoxPublicKey),
		Meta: ToHex(boxed),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return SealAnonymous(wrapped, recipientBoxPublic)
}

// OpenedEnvelope is the result of opening an envelope. Verified stays false
// until Verify succeeds against the sender's signing key.
type OpenedEnvelope struct {
	Metadata     MailMetadata
	Signature    []byte
	SenderBoxKey []byte
	Verified     bool
}

// OpenEnvelope unseals and box-opens an envelope addressed to the holder of
// recipientBoxPrivate. The signature is parsed but not checked.
func OpenEnvelope(envelope, recipientBoxPrivate []byte) (*OpenedEnvelope, error) {
	wrapped, err := OpenAnonymous(envelope, recipientBoxPrivate)
	if err != nil {
		return nil, err
	}

	var sm sealedMessage
	if err := json.Unmarshal(wrapped, &sm); err != nil {
		return nil, fmt.Errorf("%w: sealed message: %v", ErrInvalidPayload, err)
	}

	senderBox, err := FromHex(sm.From)
	if err != nil || len(senderBox) != BoxKeySize {
		return nil, fmt.Errorf("%w: sender box key", ErrInvalidPayload)
	}
	boxed, err := FromHex(sm.Meta)
	if err != nil {
		return nil, fmt.Errorf("%w: meta encoding: %v", ErrInvalidPayload, err)
	}

	plaintext, err := BoxOpen(boxed, senderBox, recipientBoxPrivate)
	if err != nil {
		return nil, err
	}

	var signed SignedMetadata
	if err := json.Unmarshal(plaintext, &signed); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidPayload, err)
	}
	sig, err := FromHex(signed.Sig)
	if err != nil || len(sig) != SignatureSize {
		return nil, fmt.Errorf("%w: signature encoding", ErrInvalidPayload)
	}

	return &OpenedEnvelope{
		Metadata:     signed.MailMetadata,
		Signature:    sig,
		SenderBoxKey: senderBox,
	}, nil
}

// Verify checks the metadata signature and marks the envelope verified.
func (o *OpenedEnvelope) Verify(signingPublic []byte) error {
	if err := VerifyDetached(&o.Metadata, o.Signature, signingPublic); err != nil {
		o.Verified = false
		return err
	}
	o.Verified = true
	return nil
}
