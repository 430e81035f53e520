package sealmail

import (
	"context"
	"fmt"
	"net/mail"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sealmail/client-go/internal/crypto"
)

// RecipientRecord is a recipient that can receive sealed mail.
type RecipientRecord struct {
	Address      string
	BoxPublicKey []byte
	// Bcc is set when the address only appeared as a blind recipient.
	Bcc bool
}

// Resolution splits a message's recipients into protocol-capable ones and
// those that need the external path.
type Resolution struct {
	Capable  []RecipientRecord
	External []string
	// RequiresExternalPath is set when fewer recipients are capable than
	// there are distinct addresses.
	RequiresExternalPath bool

	bcc map[string]bool
}

// IsBcc reports whether addr only appeared as a blind recipient.
func (r *Resolution) IsBcc(addr string) bool {
	return r.bcc[normalizeAddress(addr)]
}

// Resolver resolves recipient addresses to box keys.
type Resolver struct {
	directory      Directory
	cache          KeyCache
	capableDomains []string
	logger         zerolog.Logger
}

// NewResolver creates a Resolver. directory and cache may be nil. When
// capableDomains is non-empty, only addresses in those domains are looked
// up; all others are external.
func NewResolver(directory Directory, cache KeyCache, capableDomains []string, logger zerolog.Logger) *Resolver {
	domains := make([]string, 0, len(capableDomains))
	for _, d := range capableDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &Resolver{
		directory:      directory,
		cache:          cache,
		capableDomains: domains,
		logger:         logger,
	}
}

// Resolve deduplicates to, cc and bcc case-insensitively, validates them and
// looks up box keys: cache first, then the directory for the rest.
func (r *Resolver) Resolve(ctx context.Context, to, cc, bcc []Address) (*Resolution, error) {
	var (
		order   []string
		seen    = make(map[string]bool)
		bccOnly = make(map[string]bool)
		errs    []string
	)

	add := func(list []Address, blind bool) {
		for _, a := range list {
			parsed, err := mail.ParseAddress(a.Address)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%q: %v", a.Address, err))
				continue
			}
			addr := normalizeAddress(parsed.Address)
			if seen[addr] {
				continue
			}
			seen[addr] = true
			order = append(order, addr)
			if blind {
				bccOnly[addr] = true
			}
		}
	}
	add(to, false)
	add(cc, false)
	add(bcc, true)

	if len(errs) > 0 {
		return nil, &ValidationError{Field: "recipients", Errors: errs}
	}
	if len(order) == 0 {
		return nil, &ValidationError{Field: "recipients", Errors: []string{"no recipients"}}
	}

	keys := make(map[string][]byte, len(order))
	var pending []string
	for _, addr := range order {
		if !r.inCapableDomain(addr) {
			continue
		}
		if r.cache != nil {
			if key, ok := r.cache.Get(addr); ok {
				keys[addr] = key
				continue
			}
		}
		pending = append(pending, addr)
	}

	if len(pending) > 0 && r.directory != nil {
		found, err := r.directory.ResolveAddresses(ctx, pending)
		if err != nil {
			return nil, &DirectoryError{Addresses: pending, Err: err}
		}
		for addr, key := range found {
			addr = normalizeAddress(addr)
			if !slices.Contains(pending, addr) {
				continue
			}
			if err := crypto.ValidateBoxPublicKey(key); err != nil {
				return nil, &DirectoryError{Addresses: []string{addr}, Err: err}
			}
			keys[addr] = key
			if r.cache != nil {
				if err := r.cache.Put(addr, key); err != nil {
					r.logger.Warn().Err(err).Msg("failed to cache recipient key")
				}
			}
		}
	}

	res := &Resolution{bcc: bccOnly}
	for _, addr := range order {
		if key, ok := keys[addr]; ok {
			res.Capable = append(res.Capable, RecipientRecord{Address: addr, BoxPublicKey: key, Bcc: bccOnly[addr]})
		} else {
			res.External = append(res.External, addr)
		}
	}
	res.RequiresExternalPath = len(res.Capable) < len(order)

	r.logger.Debug().
		Int("recipient_count", len(order)).
		Int("capable", len(res.Capable)).
		Int("external", len(res.External)).
		Msg("resolved recipients")

	return res, nil
}

func (r *Resolver) inCapableDomain(addr string) bool {
	if len(r.capableDomains) == 0 {
		return true
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return false
	}
	return slices.Contains(r.capableDomains, addr[at+1:])
}
