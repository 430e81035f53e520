package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const (
	addressesPath       = "/mailbox/addresses/"
	messagePath         = "/mailbox/message"
	externalMessagePath = "/mailbox/external/message"
	messagesPath        = "/mailbox/messages"
	messagesReadPath    = "/mailbox/messages/read"
)

// GetMailboxKeys looks up account keys for addresses. Addresses without a
// mailbox are absent from the result. The route is unauthenticated.
func (c *Client) GetMailboxKeys(ctx context.Context, addresses []string) ([]AddressKey, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	path := addressesPath + url.PathEscape(strings.Join(addresses, ","))

	var result []AddressKey
	if err := c.do(ctx, http.MethodGet, path, nil, &result, false); err != nil {
		return nil, err
	}
	return result, nil
}

// SendEncryptedMail submits a batch of sealed envelopes.
func (c *Client) SendEncryptedMail(ctx context.Context, msgs []EncryptedMessage) error {
	return c.Do(ctx, http.MethodPost, messagePath, msgs, nil)
}

// SendExternalMail relays a cleartext message to external recipients.
func (c *Client) SendExternalMail(ctx context.Context, email *ExternalEmail) error {
	return c.Do(ctx, http.MethodPost, externalMessagePath, email, nil)
}

// GetNewMail returns envelopes not yet marked as synced.
func (c *Client) GetNewMail(ctx context.Context) ([]InboundMessage, error) {
	var result []InboundMessage
	if err := c.Do(ctx, http.MethodGet, messagesPath, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkAsSynced acknowledges envelopes so they are not returned again.
func (c *Client) MarkAsSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.Do(ctx, http.MethodPost, messagesReadPath, markSyncedRequest{MsgIDs: ids}, nil)
}
