package sealmail

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sealmail/client-go/internal/keystore"
	"github.com/sealmail/client-go/internal/metrics"
)

// Client sends and receives sealed mail for one account.
type Client struct {
	keys      *KeyPair
	owner     string
	transport Transport
	directory Directory
	storage   Storage
	resolver  *Resolver
	signers   SignerLookup
	store     *keystore.Store

	externalDelivery bool
	sealConcurrency  int

	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

// New creates a client. Keys are required; transport, directory and storage
// are only needed by the operations that use them.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		timeout:          defaultTimeout,
		externalDelivery: true,
		sealConcurrency:  defaultSealConcurrency,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.keys == nil {
		return nil, ErrMissingKeys
	}
	if cfg.sealConcurrency < 1 {
		cfg.sealConcurrency = 1
	}

	m := metrics.New(cfg.registry)

	c := &Client{
		keys:             cfg.keys,
		owner:            cfg.owner,
		transport:        cfg.transport,
		directory:        cfg.directory,
		storage:          cfg.storage,
		signers:          cfg.signers,
		externalDelivery: cfg.externalDelivery,
		sealConcurrency:  cfg.sealConcurrency,
		logger:           cfg.logger,
		metrics:          m,
	}

	if cfg.baseURL != "" && (c.transport == nil || c.directory == nil) {
		tokens := cfg.tokens
		if tokens == nil {
			claims := NewAccountClaims(cfg.keys, cfg.deviceID, "")
			if cfg.claims != nil {
				claims = *cfg.claims
			}
			tokens = NewTokenSource(claims, cfg.keys)
		}
		apiClient, err := buildAPIClient(cfg, tokens, m)
		if err != nil {
			return nil, wrapError("configure", err)
		}
		ht := &httpTransport{api: apiClient}
		if c.transport == nil {
			c.transport = ht
		}
		if c.directory == nil {
			c.directory = ht
		}
	}

	cache := cfg.keyCache
	if cache == nil && cfg.cachePath != "" {
		store, err := keystore.Open(cfg.cachePath, keystore.WithTTL(cfg.cacheTTL))
		if err != nil {
			return nil, err
		}
		c.store = store
		cache = store
	}
	if cache == nil {
		cache = NewMemoryKeyCache()
	}

	c.resolver = NewResolver(c.directory, cache, cfg.capableDomains, cfg.logger)
	return c, nil
}

// Keys returns the account keys.
func (c *Client) Keys() *KeyPair {
	return c.keys
}

// Resolver returns the recipient resolver.
func (c *Client) Resolver() *Resolver {
	return c.resolver
}

// Close releases the persistent key cache, if any. Further operations
// return ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}
