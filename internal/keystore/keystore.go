// Package keystore persists recipient box keys in a bbolt database so
// directory lookups survive restarts.
package keystore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	keysBucket = "recipient_keys"
	metaBucket = "meta"

	schemaVersion = 1
	stampSize     = 8
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keystore: closed")
	// ErrSchemaVersion is returned when the database was written by an
	// incompatible version.
	ErrSchemaVersion = errors.New("keystore: unsupported schema version")
)

// Option configures a Store.
type Option func(*Store)

// WithTTL expires entries older than ttl on read. Zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is a bbolt-backed recipient key cache. Addresses are compared
// case-insensitively.
type Store struct {
	sync.RWMutex

	db     *bolt.DB
	ttl    time.Duration
	now    func() time.Time
	closed bool
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", path, err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.Update(s.initBuckets); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initBuckets(tx *bolt.Tx) error {
	if _, err := tx.CreateBucketIfNotExists([]byte(keysBucket)); err != nil {
		return fmt.Errorf("keystore: create bucket: %w", err)
	}
	meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
	if err != nil {
		return fmt.Errorf("keystore: create bucket: %w", err)
	}

	raw := meta.Get([]byte("version"))
	if raw == nil {
		var v [stampSize]byte
		binary.BigEndian.PutUint64(v[:], schemaVersion)
		return meta.Put([]byte("version"), v[:])
	}
	if len(raw) != stampSize || binary.BigEndian.Uint64(raw) != schemaVersion {
		return ErrSchemaVersion
	}
	return nil
}

func normalize(addr string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(addr)))
}

// Get returns the cached key for addr.
func (s *Store) Get(addr string) ([]byte, bool) {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return nil, false
	}

	var key []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(keysBucket)).Get(normalize(addr))
		if len(raw) <= stampSize {
			return nil
		}
		stored := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:stampSize])))
		if s.ttl > 0 && s.now().Sub(stored) > s.ttl {
			return nil
		}
		// bbolt values are only valid inside the transaction
		key = append([]byte(nil), raw[stampSize:]...)
		return nil
	})
	return key, key != nil
}

// Put stores key for addr, replacing any previous entry.
func (s *Store) Put(addr string, key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("keystore: empty key for %q", addr)
	}

	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return ErrClosed
	}

	value := make([]byte, stampSize+len(key))
	binary.BigEndian.PutUint64(value, uint64(s.now().UnixNano()))
	copy(value[stampSize:], key)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keysBucket)).Put(normalize(addr), value)
	})
}

// Delete removes addr from the cache.
func (s *Store) Delete(addr string) error {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keysBucket)).Delete(normalize(addr))
	})
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return 0
	}
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(keysBucket)).Stats().KeyN
		return nil
	})
	return n
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
