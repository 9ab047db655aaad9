// Package cache provides a persistent response cache backed by Badger.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// DefaultTTL is how long cached transcription results are kept.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is one cached one-shot transcription result.
type Entry struct {
	Transcription string    `json:"transcription"`
	Translation   string    `json:"translation"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Cache wraps a Badger database for result caching.
type Cache struct {
	db *badger.DB
}

// New opens (or creates) a cache at the given directory.
func New(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached entry for key, if present and unexpired.
func (c *Cache) Get(key string) (*Entry, bool) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, false
	}
	return &entry, true
}

// Set stores an entry under key with the given TTL.
func (c *Cache) Set(key string, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	err := c.db.Close()
	if errors.Is(err, badger.ErrDBClosed) {
		return nil
	}
	return err
}

// GenerateKey derives a stable cache key from its parts.
func GenerateKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns a stable hex digest for raw content, for use as a
// GenerateKey part when the input is binary.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
