// Package cache stores fetched chapter bodies in a Badger database so that
// reopening a book does not hit the network again.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const chapterPrefix = "chapter:"

// ErrMiss is returned by Get when no live entry exists for a url.
var ErrMiss = errors.New("cache: miss")

// Entry is a cached chapter body.
type Entry struct {
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Options configures a Cache.
type Options struct {
	// Path is the database directory. Empty opens an in-memory cache.
	Path string
	// TTL is how long entries live. Zero keeps entries until they are deleted.
	TTL    time.Duration
	Logger *slog.Logger
}

// Cache wraps a Badger database holding chapter bodies keyed by chapter url.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Open opens the cache described by opts.
func Open(opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bopts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = nil            // Disable Badger's internal logging
	bopts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	logger.Info("chapter cache opened", "path", opts.Path, "ttl", opts.TTL)
	return &Cache{db: db, ttl: opts.TTL, logger: logger}, nil
}

// Close flushes and closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the entry cached for url, or ErrMiss.
func (c *Cache) Get(url string) (Entry, error) {
	key := buildKey(chapterPrefix, url)
	defer releaseKey(key)

	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get cached chapter: %w", err)
	}
	return entry, nil
}

// Put stores entry for url, replacing any previous entry.
func (c *Cache) Put(url string, entry Entry) error {
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cached chapter: %w", err)
	}

	key := buildKey(chapterPrefix, url)
	defer releaseKey(key)

	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes the entry for url. Deleting a missing entry is not an error.
func (c *Cache) Delete(url string) error {
	key := buildKey(chapterPrefix, url)
	defer releaseKey(key)

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Clear removes every cached chapter.
func (c *Cache) Clear() error {
	if err := c.db.DropPrefix([]byte(chapterPrefix)); err != nil {
		return fmt.Errorf("clear chapter cache: %w", err)
	}
	c.logger.Info("chapter cache cleared")
	return nil
}

// Len counts live entries.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(chapterPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// RunGC reclaims value log space every interval until ctx is done.
func (c *Cache) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for c.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}
