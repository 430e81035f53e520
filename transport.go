package sealmail

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/sealmail/client-go/internal/api"
	"github.com/sealmail/client-go/internal/crypto"
	"github.com/sealmail/client-go/internal/metrics"
)

// httpTransport implements Transport and Directory over the mailbox API.
type httpTransport struct {
	api *api.Client
}

// buildAPIClient creates and configures an API client from the given config.
func buildAPIClient(cfg *clientConfig, tokens TokenSource, m *metrics.Metrics) (*api.Client, error) {
	apiOpts := []api.Option{
		api.WithLogger(cfg.logger),
	}
	if cfg.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(cfg.httpClient))
	} else if cfg.timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.timeout))
	}
	if cfg.retries != 0 {
		apiOpts = append(apiOpts, api.WithRetries(cfg.retries))
	}
	if len(cfg.retryOn) > 0 {
		apiOpts = append(apiOpts, api.WithRetryOn(cfg.retryOn...))
	}
	if cfg.rateLimit > 0 || cfg.rateBurst > 0 {
		apiOpts = append(apiOpts, api.WithRateLimit(rate.Limit(cfg.rateLimit), cfg.rateBurst))
	}
	if m != nil {
		apiOpts = append(apiOpts, api.WithObserver(m.ObserveRequest))
	}

	return api.New(cfg.baseURL, tokens, apiOpts...)
}

func (t *httpTransport) SendEnvelopes(ctx context.Context, deliveries []EnvelopeDelivery) error {
	msgs := make([]api.EncryptedMessage, len(deliveries))
	for i, d := range deliveries {
		msgs[i] = api.EncryptedMessage{
			AccountKey: crypto.ToHex(d.AccountKey),
			Msg:        EncodeEnvelope(d.Envelope),
		}
	}
	return t.api.SendEncryptedMail(ctx, msgs)
}

func (t *httpTransport) SendExternal(ctx context.Context, mail *ExternalMail) error {
	email := &api.ExternalEmail{
		Recipients:  mail.Recipients,
		To:          toAPIAddresses(mail.To),
		Cc:          toAPIAddresses(mail.Cc),
		From:        toAPIAddresses(mail.From),
		Subject:     mail.Subject,
		TextBody:    mail.TextBody,
		HTMLBody:    mail.HTMLBody,
		Attachments: make([]api.ExternalAttachment, 0, len(mail.Attachments)),
	}
	for _, a := range mail.Attachments {
		email.Attachments = append(email.Attachments, api.ExternalAttachment{
			Filename:    a.Filename,
			Content:     crypto.ToBase64(a.Content),
			ContentType: a.ContentType,
		})
	}
	return t.api.SendExternalMail(ctx, email)
}

func (t *httpTransport) FetchEnvelopes(ctx context.Context) ([]ReceivedEnvelope, error) {
	msgs, err := t.api.GetNewMail(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ReceivedEnvelope, 0, len(msgs))
	for _, m := range msgs {
		env, err := crypto.FromHex(m.Msg)
		if err != nil {
			// undecodable entries surface as open failures
			env = nil
		}
		out = append(out, ReceivedEnvelope{ID: m.ID, Envelope: env})
	}
	return out, nil
}

func (t *httpTransport) MarkSynced(ctx context.Context, ids []string) error {
	return t.api.MarkAsSynced(ctx, ids)
}

func (t *httpTransport) ResolveAddresses(ctx context.Context, addrs []string) (map[string][]byte, error) {
	records, err := t.api.GetMailboxKeys(ctx, addrs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(records))
	for _, rec := range records {
		key, err := crypto.FromHex(rec.AccountKey)
		if err != nil {
			return nil, &ValidationError{Field: "account_key", Errors: []string{rec.Address + ": " + err.Error()}, Err: err}
		}
		out[normalizeAddress(rec.Address)] = key
	}
	return out, nil
}

func toAPIAddresses(in []Address) []api.MailAddress {
	if len(in) == 0 {
		return nil
	}
	out := make([]api.MailAddress, len(in))
	for i, a := range in {
		out[i] = api.MailAddress{Name: a.Name, Address: a.Address}
	}
	return out
}
