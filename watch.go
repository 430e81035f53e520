package sealmail

import (
	"context"
	"errors"
	"time"

	"github.com/sealmail/client-go/internal/delivery"
)

// EnvelopeHandler is called once for each opened envelope.
type EnvelopeHandler func(ctx context.Context, env *OpenedEnvelope) error

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

type watchConfig struct {
	interval   time.Duration
	maxBackoff time.Duration
	markSynced bool
}

// WithPollInterval sets the interval between fetches while mail is
// arriving.
// Default: 2 seconds
func WithPollInterval(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		c.interval = d
	}
}

// WithMaxBackoff caps the interval reached while the mailbox stays empty.
// Default: 30 seconds
func WithMaxBackoff(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		c.maxBackoff = d
	}
}

// WithMarkSynced controls whether envelopes are acknowledged after the
// handler accepts them.
// Default: true
func WithMarkSynced(enabled bool) WatchOption {
	return func(c *watchConfig) {
		c.markSynced = enabled
	}
}

// Watch fetches the mailbox repeatedly in the calling goroutine and hands
// each new envelope to fn, backing off while nothing arrives. Envelopes
// that fail to open or verify are logged and skipped. Handled envelopes are
// marked synced after each poll; a failed acknowledgement is retried on the
// following polls until it succeeds. Watch returns when
// ctx is done, when fn returns an error, or on ErrUnauthorized.
func (c *Client) Watch(ctx context.Context, fn EnvelopeHandler, opts ...WatchOption) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if c.transport == nil {
		return ErrMissingTransport
	}

	cfg := &watchConfig{markSynced: true}
	for _, opt := range opts {
		opt(cfg)
	}

	seen := make(map[string]struct{})
	// handled but not yet acknowledged
	var pending []string
	var handlerErr error

	ack := func(ctx context.Context) error {
		if !cfg.markSynced || len(pending) == 0 {
			return nil
		}
		if err := c.MarkSynced(ctx, pending); err != nil {
			return err
		}
		pending = nil
		return nil
	}

	poller := delivery.NewPoller(delivery.PollerConfig{
		InitialInterval: cfg.interval,
		MaxBackoff:      cfg.maxBackoff,
		OnError: func(err error) {
			c.logger.Warn().Err(err).Int("pending_ack", len(pending)).Msg("mailbox poll failed")
		},
		Stop: func(err error) error {
			if handlerErr != nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrClientClosed) {
				return err
			}
			return nil
		},
	})

	return poller.Run(ctx, func(ctx context.Context) (int, error) {
		result, err := c.ReceiveMail(ctx)
		if err != nil {
			return 0, err
		}
		for _, f := range result.Failed {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			seen[f.ID] = struct{}{}
			c.logger.Warn().Str("envelope_id", f.ID).Err(f.Err).Msg("skipping envelope")
		}

		handled := 0
		for _, env := range result.Envelopes {
			if _, ok := seen[env.ID]; ok {
				continue
			}
			if err := fn(ctx, env); err != nil {
				handlerErr = err
				return handled, errors.Join(err, ack(ctx))
			}
			seen[env.ID] = struct{}{}
			pending = append(pending, env.ID)
			handled++
		}
		return handled, ack(ctx)
	})
}
