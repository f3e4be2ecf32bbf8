package translation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketTranslations = []byte("translations")

// Cache remembers translated texts per language pair in a BoltDB file, with
// an in-memory layer in front of it.
type Cache struct {
	db *bolt.DB

	mu  sync.RWMutex
	mem map[string]string
}

// OpenCache opens the translation cache at path. An empty path keeps the
// cache in memory only.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{mem: make(map[string]string)}
	if path == "" {
		return c, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create translation cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTranslations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create translation bucket: %w", err)
	}

	c.db = db
	return c, nil
}

// Close closes the BoltDB file.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the cached translation of text from source to target.
func (c *Cache) Get(source, target, text string) (string, bool) {
	key := cacheKey(source, target, text)

	c.mu.RLock()
	v, ok := c.mem[key]
	c.mu.RUnlock()
	if ok || c.db == nil {
		return v, ok
	}

	var out []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketTranslations).Get([]byte(key)); v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if out == nil {
		return "", false
	}

	c.mu.Lock()
	c.mem[key] = string(out)
	c.mu.Unlock()
	return string(out), true
}

// Put stores a translation.
func (c *Cache) Put(source, target, text, translated string) error {
	key := cacheKey(source, target, text)

	c.mu.Lock()
	c.mem[key] = translated
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTranslations).Put([]byte(key), []byte(translated))
	})
}

// Len returns the number of persisted translations, or of in-memory ones
// when the cache has no file.
func (c *Cache) Len() int {
	if c.db == nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.mem)
	}
	n := 0
	_ = c.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketTranslations).Stats().KeyN
		return nil
	})
	return n
}

func cacheKey(source, target, text string) string {
	sum := sha256.Sum256([]byte(text))
	return source + ":" + target + ":" + hex.EncodeToString(sum[:])
}
