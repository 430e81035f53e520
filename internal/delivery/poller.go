package delivery

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	PollingInitialInterval   = 2 * time.Second
	PollingMaxBackoff        = 30 * time.Second
	PollingBackoffMultiplier = 1.5
	PollingJitterFactor      = 0.3
)

// PollFunc fetches once and reports how many new items it handled.
type PollFunc func(ctx context.Context) (int, error)

// PollerConfig configures a Poller. Zero fields take the package defaults.
type PollerConfig struct {
	InitialInterval time.Duration
	MaxBackoff      time.Duration
	Multiplier      float64
	JitterFactor    float64
	// OnError is called for every failed poll; polling continues.
	OnError func(error)
	// Stop ends Run with this error when it returns non-nil.
	Stop func(error) error
}

// Poller runs a PollFunc with adaptive backoff.
type Poller struct {
	cfg      PollerConfig
	interval time.Duration
	jitter   func() float64
}

// NewPoller creates a Poller.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = PollingInitialInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = PollingMaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialInterval {
		cfg.MaxBackoff = cfg.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = PollingBackoffMultiplier
	}
	if cfg.JitterFactor <= 0 || cfg.JitterFactor >= 1 {
		cfg.JitterFactor = PollingJitterFactor
	}
	return &Poller{
		cfg:      cfg,
		interval: cfg.InitialInterval,
		jitter:   rand.Float64,
	}
}

// Interval returns the wait before the next poll, without jitter.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Run polls until ctx is done, returning ctx.Err(), or until Stop asks it
// to end.
func (p *Poller) Run(ctx context.Context, poll PollFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.cfg.Stop != nil {
				if stop := p.cfg.Stop(err); stop != nil {
					return stop
				}
			}
			if p.cfg.OnError != nil {
				p.cfg.OnError(err)
			}
		}
		p.advance(n, err)

		timer := time.NewTimer(p.wait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Poller) advance(n int, err error) {
	if err == nil && n > 0 {
		p.interval = p.cfg.InitialInterval
		return
	}
	next := time.Duration(float64(p.interval) * p.cfg.Multiplier)
	if next > p.cfg.MaxBackoff {
		next = p.cfg.MaxBackoff
	}
	p.interval = next
}

// wait applies symmetric jitter to the current interval.
func (p *Poller) wait() time.Duration {
	spread := float64(p.interval) * p.cfg.JitterFactor
	return p.interval + time.Duration(spread*(2*p.jitter()-1))
}
