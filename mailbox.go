package sealmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sealmail/client-go/internal/metrics"
)

// SendResult reports the outcome of Client.Send.
type SendResult struct {
	// File is the stored encrypted message; nil when no recipient was capable.
	File *StoredFile
	// Envelopes is the number of envelopes submitted.
	Envelopes int
	// Failed lists recipients whose envelope could not be sealed.
	Failed []*RecipientError
	// ExternalRecipients received a cleartext copy.
	ExternalRecipients []string
	// Skipped were neither capable nor relayed because external delivery
	// is disabled.
	Skipped []string
}

// ReceiveResult reports the outcome of Client.ReceiveMail.
type ReceiveResult struct {
	Envelopes []*OpenedEnvelope
	Failed    []*EnvelopeError
}

// Send delivers msg. Capable recipients get the message through encrypted
// storage and a sealed metadata envelope each; the rest get a cleartext copy
// unless external delivery is disabled. Bcc recipients are never visible to
// other recipients.
func (c *Client) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if c.transport == nil {
		return nil, ErrMissingTransport
	}
	if msg.ID == "" {
		msg = msg.withID(uuid.NewString())
	}

	res, err := c.resolver.Resolve(ctx, msg.To, msg.Cc, msg.Bcc)
	if err != nil {
		return nil, err
	}

	result := &SendResult{}
	if res.RequiresExternalPath {
		if !c.externalDelivery {
			if len(res.Capable) == 0 {
				return nil, &DirectoryError{Addresses: res.External, Err: ErrNoCapableRecipients}
			}
			result.Skipped = res.External
		} else if err := c.sendExternal(ctx, msg, res); err != nil {
			return nil, err
		} else {
			result.ExternalRecipients = res.External
		}
	}
	if len(res.Capable) == 0 {
		return result, nil
	}

	if c.storage == nil {
		return nil, ErrMissingStorage
	}
	file, err := c.storeMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	result.File = file

	owner := c.owner
	if owner == "" {
		owner = normalizeAddress(msg.From[0].Address)
	}
	meta, err := NewMailMetadata(owner, file)
	if err != nil {
		return nil, err
	}

	deliveries, failed, err := c.sealAll(ctx, meta, res.Capable)
	if err != nil {
		return nil, err
	}
	result.Failed = failed
	if len(deliveries) == 0 {
		errs := make([]error, len(failed))
		for i, f := range failed {
			errs[i] = f
		}
		return result, errors.Join(errs...)
	}

	if err := c.transport.SendEnvelopes(ctx, deliveries); err != nil {
		return nil, wrapError("send envelopes", err)
	}
	result.Envelopes = len(deliveries)

	c.logger.Info().
		Str("message_id", msg.ID).
		Int("envelope_count", result.Envelopes).
		Int("external", len(result.ExternalRecipients)).
		Int("failed", len(result.Failed)).
		Msg("message sent")

	return result, nil
}

func (c *Client) sendExternal(ctx context.Context, msg *Message, res *Resolution) error {
	var visible, blind []string
	for _, addr := range res.External {
		if res.IsBcc(addr) {
			blind = append(blind, addr)
		} else {
			visible = append(visible, addr)
		}
	}

	send := func(recipients []string) error {
		if err := c.transport.SendExternal(ctx, msg.external(recipients)); err != nil {
			return wrapError("send external", err)
		}
		c.metrics.External()
		return nil
	}

	if len(visible) > 0 {
		if err := send(visible); err != nil {
			return err
		}
	}
	for _, addr := range blind {
		if err := send([]string{addr}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) storeMessage(ctx context.Context, msg *Message) (*StoredFile, error) {
	body, err := json.Marshal(msg.WithoutBcc())
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	file, err := c.storage.WriteFile(ctx, "mail/"+msg.ID+".json", bytes.NewReader(body), WriteOptions{
		Encrypted:   true,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	c.metrics.Stream(metrics.DirectionEncrypt, int64(len(body)))
	return file, nil
}

// sealAll seals meta for every recipient with bounded concurrency. Seal
// failures are collected per recipient; only cancellation aborts.
func (c *Client) sealAll(ctx context.Context, meta *MailMetadata, recipients []RecipientRecord) ([]EnvelopeDelivery, []*RecipientError, error) {
	envelopes := make([][]byte, len(recipients))
	failures := make([]error, len(recipients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.sealConcurrency)
	for i, rcpt := range recipients {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			env, err := SealMetadata(meta, rcpt.BoxPublicKey, c.keys)
			if err != nil {
				failures[i] = err
				c.metrics.CryptoFailure(StageSeal)
				return nil
			}
			envelopes[i] = env
			c.metrics.Sealed()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		deliveries []EnvelopeDelivery
		failed     []*RecipientError
	)
	for i, rcpt := range recipients {
		if failures[i] != nil {
			failed = append(failed, &RecipientError{Address: rcpt.Address, Err: failures[i]})
			continue
		}
		deliveries = append(deliveries, EnvelopeDelivery{
			Address:    rcpt.Address,
			AccountKey: rcpt.BoxPublicKey,
			Envelope:   envelopes[i],
		})
	}
	return deliveries, failed, nil
}

// ReceiveMail fetches pending envelopes and opens each with the account box
// key. With a SignerLookup configured, envelopes whose signature cannot be
// verified are reported in Failed instead of Envelopes.
func (c *Client) ReceiveMail(ctx context.Context) (*ReceiveResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if c.transport == nil {
		return nil, ErrMissingTransport
	}

	received, err := c.transport.FetchEnvelopes(ctx)
	if err != nil {
		return nil, wrapError("fetch envelopes", err)
	}

	result := &ReceiveResult{}
	for _, r := range received {
		opened, err := c.openReceived(ctx, r)
		if err != nil {
			var ce *CryptoError
			if errors.As(err, &ce) {
				c.metrics.CryptoFailure(ce.Stage)
			}
			result.Failed = append(result.Failed, &EnvelopeError{ID: r.ID, Err: err})
			continue
		}
		c.metrics.Opened()
		result.Envelopes = append(result.Envelopes, opened)
	}

	c.logger.Debug().
		Int("envelope_count", len(result.Envelopes)).
		Int("failed", len(result.Failed)).
		Msg("received mail")

	return result, nil
}

func (c *Client) openReceived(ctx context.Context, r ReceivedEnvelope) (*OpenedEnvelope, error) {
	opened, err := OpenEnvelope(r.Envelope, c.keys.BoxPrivateKey)
	if err != nil {
		return nil, err
	}
	opened.ID = r.ID
	if c.signers == nil {
		return opened, nil
	}
	signingKey, err := c.signers.SigningKey(ctx, opened.SenderBoxKey)
	if err != nil {
		return nil, &DirectoryError{Err: fmt.Errorf("signing key lookup: %w", err)}
	}
	if err := opened.Verify(signingKey); err != nil {
		return nil, err
	}
	return opened, nil
}

// MarkSynced acknowledges processed envelopes so they are not fetched again.
func (c *Client) MarkSynced(ctx context.Context, ids []string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if c.transport == nil {
		return ErrMissingTransport
	}
	if len(ids) == 0 {
		return nil
	}
	return wrapError("mark synced", c.transport.MarkSynced(ctx, ids))
}

// FetchContent retrieves and decrypts the content each metadata points at,
// calling fn with a plaintext reader. fn must consume the reader before
// returning; a CryptoError from it means the content must be discarded.
func (c *Client) FetchContent(ctx context.Context, metas []MailMetadata, fn func(MailMetadata, io.Reader) error) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if c.storage == nil {
		return ErrMissingStorage
	}

	ptrs := make([]ContentPointer, len(metas))
	byLocator := make(map[string]MailMetadata, len(metas))
	for i := range metas {
		ptr, err := ContentPointerFor(&metas[i])
		if err != nil {
			return err
		}
		ptrs[i] = ptr
		byLocator[ptr.Locator] = metas[i]
	}

	return c.storage.FetchBatch(ctx, ptrs, func(ptr ContentPointer, r io.Reader) error {
		dr, err := NewDecryptReader(r, ptr.Key, ptr.Header)
		if err != nil {
			return err
		}
		err = fn(byLocator[ptr.Locator], dr)
		c.metrics.Stream(metrics.DirectionDecrypt, dr.Size())
		if err != nil {
			var ce *CryptoError
			if errors.As(err, &ce) {
				c.metrics.CryptoFailure(ce.Stage)
			}
		}
		return err
	})
}
