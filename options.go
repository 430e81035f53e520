package sealmail

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultSealConcurrency = 8
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	keys     *KeyPair
	owner    string
	claims   *AccountClaims
	tokens   TokenSource
	deviceID string

	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	retryOn    []int
	rateLimit  float64
	rateBurst  int

	transport Transport
	directory Directory
	storage   Storage
	keyCache  KeyCache
	cachePath string
	cacheTTL  time.Duration
	signers   SignerLookup

	capableDomains   []string
	externalDelivery bool
	sealConcurrency  int

	logger   zerolog.Logger
	registry prometheus.Registerer
}

// Option configures the client.
type Option func(*clientConfig)

// WithKeys sets the account keys used to sign, seal and open.
func WithKeys(keys *KeyPair) Option {
	return func(c *clientConfig) {
		c.keys = keys
	}
}

// WithOwner sets the owner recorded in outgoing metadata.
// Default: the first From address of each message.
func WithOwner(owner string) Option {
	return func(c *clientConfig) {
		c.owner = owner
	}
}

// WithClaims sets the account claims used to mint bearer tokens for the
// built-in HTTP transport.
func WithClaims(claims AccountClaims) Option {
	return func(c *clientConfig) {
		c.claims = &claims
	}
}

// WithDeviceID sets the device id used when claims are derived from keys.
// Default: a random UUID.
func WithDeviceID(id string) Option {
	return func(c *clientConfig) {
		c.deviceID = id
	}
}

// WithTokenSource overrides how bearer tokens are minted.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *clientConfig) {
		c.tokens = tokens
	}
}

// WithBaseURL enables the built-in HTTP transport and directory against
// the mailbox API at url.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client for the built-in transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP timeout.
// Default: 30 seconds
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for API calls. Zero keeps the
// default; a negative count disables retries.
// Default: 3
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
// Default: [408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// WithRateLimit caps outbound API requests per second with a burst.
// Default: 10 per second, burst 20
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *clientConfig) {
		c.rateLimit = perSecond
		c.rateBurst = burst
	}
}

// WithTransport sets the envelope transport. It takes precedence over
// WithBaseURL.
func WithTransport(t Transport) Option {
	return func(c *clientConfig) {
		c.transport = t
	}
}

// WithDirectory sets the recipient directory. It takes precedence over
// WithBaseURL.
func WithDirectory(d Directory) Option {
	return func(c *clientConfig) {
		c.directory = d
	}
}

// WithStorage sets where message content is written and fetched.
func WithStorage(s Storage) Option {
	return func(c *clientConfig) {
		c.storage = s
	}
}

// WithKeyCache sets the recipient key cache.
// Default: an in-memory cache
func WithKeyCache(cache KeyCache) Option {
	return func(c *clientConfig) {
		c.keyCache = cache
	}
}

// WithKeyCachePath persists recipient keys in a bbolt database at path.
// Entries older than ttl are ignored; zero keeps them forever. The client
// closes the database on Close.
func WithKeyCachePath(path string, ttl time.Duration) Option {
	return func(c *clientConfig) {
		c.cachePath = path
		c.cacheTTL = ttl
	}
}

// WithSignerLookup makes metadata signature verification mandatory on
// receive, using lookup to find each sender's signing key.
func WithSignerLookup(lookup SignerLookup) Option {
	return func(c *clientConfig) {
		c.signers = lookup
	}
}

// WithCapableDomains restricts directory lookups to these domains.
// Addresses elsewhere always take the external path.
func WithCapableDomains(domains ...string) Option {
	return func(c *clientConfig) {
		c.capableDomains = domains
	}
}

// WithExternalDelivery controls whether non-capable recipients receive a
// cleartext copy.
// Default: true
func WithExternalDelivery(enabled bool) Option {
	return func(c *clientConfig) {
		c.externalDelivery = enabled
	}
}

// WithSealConcurrency bounds concurrent per-recipient sealing.
// Default: 8
func WithSealConcurrency(n int) Option {
	return func(c *clientConfig) {
		c.sealConcurrency = n
	}
}

// WithLogger sets the structured logger.
// Default: zerolog.Nop()
func WithLogger(logger zerolog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetricsRegisterer registers client metrics on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *clientConfig) {
		c.registry = reg
	}
}
