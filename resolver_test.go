package sealmail

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
)

type countingDirectory struct {
	keys  map[string][]byte
	calls [][]string
	err   error
}

func (d *countingDirectory) ResolveAddresses(_ context.Context, addrs []string) (map[string][]byte, error) {
	d.calls = append(d.calls, slices.Clone(addrs))
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string][]byte)
	for _, a := range addrs {
		if k, ok := d.keys[a]; ok {
			out[a] = k
		}
	}
	return out, nil
}

func TestResolver_Split(t *testing.T) {
	bob, carol := mustKeys(t), mustKeys(t)
	dir := &countingDirectory{keys: map[string][]byte{
		"bob@example.com":   bob.BoxPublicKey,
		"carol@example.com": carol.BoxPublicKey,
	}}
	r := NewResolver(dir, NewMemoryKeyCache(), nil, zerolog.Nop())

	res, err := r.Resolve(context.Background(),
		addrs("Bob@Example.com", "dave@elsewhere.test"),
		addrs("bob@example.com"),
		addrs("carol@example.com", "erin@elsewhere.test"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	var capable []string
	for _, c := range res.Capable {
		capable = append(capable, c.Address)
	}
	if !slices.Equal(capable, []string{"bob@example.com", "carol@example.com"}) {
		t.Errorf("Capable = %v", capable)
	}
	if !slices.Equal(res.External, []string{"dave@elsewhere.test", "erin@elsewhere.test"}) {
		t.Errorf("External = %v", res.External)
	}
	if !res.RequiresExternalPath {
		t.Error("RequiresExternalPath = false, want true")
	}
	if res.Capable[0].Bcc || !res.Capable[1].Bcc {
		t.Error("Bcc flags wrong")
	}
	if !res.IsBcc("ERIN@elsewhere.test") || res.IsBcc("dave@elsewhere.test") {
		t.Error("IsBcc wrong for external recipients")
	}
	if len(dir.calls) != 1 || len(dir.calls[0]) != 4 {
		t.Errorf("directory calls = %v, want one call with 4 addresses", dir.calls)
	}
}

func TestResolver_AllCapable(t *testing.T) {
	bob := mustKeys(t)
	dir := &countingDirectory{keys: map[string][]byte{"bob@example.com": bob.BoxPublicKey}}
	r := NewResolver(dir, nil, nil, zerolog.Nop())

	res, err := r.Resolve(context.Background(), addrs("bob@example.com"), nil, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.RequiresExternalPath || len(res.External) != 0 {
		t.Errorf("unexpected external path: %+v", res)
	}
}

func TestResolver_CacheFirst(t *testing.T) {
	bob := mustKeys(t)
	dir := &countingDirectory{keys: map[string][]byte{"bob@example.com": bob.BoxPublicKey}}
	cache := NewMemoryKeyCache()
	r := NewResolver(dir, cache, nil, zerolog.Nop())

	for range 3 {
		if _, err := r.Resolve(context.Background(), addrs("bob@example.com"), nil, nil); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if len(dir.calls) != 1 {
		t.Errorf("directory calls = %d, want 1", len(dir.calls))
	}
	if cache.Len() != 1 {
		t.Errorf("cache.Len() = %d, want 1", cache.Len())
	}
}

func TestResolver_CapableDomains(t *testing.T) {
	bob := mustKeys(t)
	dir := &countingDirectory{keys: map[string][]byte{
		"bob@example.com":  bob.BoxPublicKey,
		"bob@elsewhere.io": bob.BoxPublicKey,
	}}
	r := NewResolver(dir, nil, []string{" Example.COM "}, zerolog.Nop())

	res, err := r.Resolve(context.Background(), addrs("bob@example.com", "bob@elsewhere.io"), nil, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Capable) != 1 || res.Capable[0].Address != "bob@example.com" {
		t.Errorf("Capable = %+v", res.Capable)
	}
	if !slices.Equal(dir.calls[0], []string{"bob@example.com"}) {
		t.Errorf("directory queried for %v", dir.calls[0])
	}
}

func TestResolver_Errors(t *testing.T) {
	t.Run("invalid address", func(t *testing.T) {
		r := NewResolver(nil, nil, nil, zerolog.Nop())
		_, err := r.Resolve(context.Background(), addrs("bob@example.com", "not-an-address"), nil, nil)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "recipients" {
			t.Errorf("Resolve() error = %v, want recipients ValidationError", err)
		}
	})

	t.Run("no recipients", func(t *testing.T) {
		r := NewResolver(nil, nil, nil, zerolog.Nop())
		if _, err := r.Resolve(context.Background(), nil, nil, nil); !errors.Is(err, ErrValidation) {
			t.Errorf("Resolve() error = %v, want ErrValidation", err)
		}
	})

	t.Run("directory failure", func(t *testing.T) {
		boom := errors.New("directory down")
		r := NewResolver(&countingDirectory{err: boom}, nil, nil, zerolog.Nop())
		_, err := r.Resolve(context.Background(), addrs("bob@example.com"), nil, nil)
		if !errors.Is(err, ErrDirectory) || !errors.Is(err, boom) {
			t.Errorf("Resolve() error = %v, want DirectoryError wrapping cause", err)
		}
	})

	t.Run("invalid directory key", func(t *testing.T) {
		dir := &countingDirectory{keys: map[string][]byte{"bob@example.com": {1, 2, 3}}}
		cache := NewMemoryKeyCache()
		r := NewResolver(dir, cache, nil, zerolog.Nop())
		_, err := r.Resolve(context.Background(), addrs("bob@example.com"), nil, nil)
		if !errors.Is(err, ErrDirectory) {
			t.Errorf("Resolve() error = %v, want ErrDirectory", err)
		}
		if cache.Len() != 0 {
			t.Error("invalid keys must not be cached")
		}
	})

	t.Run("no directory", func(t *testing.T) {
		r := NewResolver(nil, nil, nil, zerolog.Nop())
		res, err := r.Resolve(context.Background(), addrs("bob@example.com"), nil, nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if len(res.External) != 1 {
			t.Errorf("External = %v, want everything external", res.External)
		}
	})
}

func TestMemoryKeyCache(t *testing.T) {
	cache := NewMemoryKeyCache()
	key := []byte{1, 2, 3}
	if err := cache.Put("Bob@Example.com", key); err != nil {
		t.Fatal(err)
	}
	key[0] = 9

	got, ok := cache.Get("bob@example.com ")
	if !ok {
		t.Fatal("Get() ok = false")
	}
	if got[0] != 1 {
		t.Error("cache should copy keys on Put")
	}
	got[1] = 9
	again, _ := cache.Get("bob@example.com")
	if again[1] != 2 {
		t.Error("cache should copy keys on Get")
	}
	if _, ok := cache.Get("carol@example.com"); ok {
		t.Error("Get() of unknown address should miss")
	}
}
