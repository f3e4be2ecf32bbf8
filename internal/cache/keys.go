package cache

import "sync"

// keyPool provides reusable byte slices for building database keys.
var keyPool = sync.Pool{
	New: func() any {
		// Prefix plus a typical chapter url.
		return make([]byte, 0, 256)
	},
}

// buildKey constructs a key from prefix and suffix using a pooled buffer.
// Callers must call releaseKey once the key is no longer used.
func buildKey(prefix, suffix string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, prefix...)
	buf = append(buf, suffix...)
	return buf
}

// releaseKey returns a key buffer to the pool.
func releaseKey(key []byte) {
	if cap(key) <= 1024 {
		keyPool.Put(key[:0])
	}
}
