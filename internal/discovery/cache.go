package discovery

import (
	"crypto/sha256"
	"encoding/hex"
)

// Cache remembers the content hash of the last document published per
// device. It is not safe for concurrent use; the [Router] serializes
// access.
type Cache struct {
	hashes map[string]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{hashes: make(map[string]string)}
}

// ShouldPublish hashes payload and reports whether it differs from the
// last hash recorded for id, or force is set. It does not record
// anything; call [Cache.Record] once the publish has succeeded.
func (c *Cache) ShouldPublish(id string, payload []byte, force bool) (bool, string) {
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	if prev, ok := c.hashes[id]; ok && prev == hash && !force {
		return false, hash
	}
	return true, hash
}

// Record stores hash as the last published document for id.
func (c *Cache) Record(id, hash string) {
	c.hashes[id] = hash
}

// Hash returns the recorded hash for id.
func (c *Cache) Hash(id string) (string, bool) {
	h, ok := c.hashes[id]
	return h, ok
}

// Len returns the number of devices seen.
func (c *Cache) Len() int { return len(c.hashes) }
