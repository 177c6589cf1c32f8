package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/ouziel-slama/kontor/common"
)

// Cache is a typed read-through cache in front of the latest-contract-
// state hot path, sitting in front of storage.Store rather than being a
// persistence backend in its own right. common.NewCache (common/cache.go)
// wraps hashicorp/golang-lru to back the in-memory tier; an optional
// KVDatabase (kvdb.go) adds a persistent second tier that survives
// restarts, checked only when the LRU misses.
type Cache struct {
	inner   common.Cache
	persist KVDatabase
}

// NewCache builds a sharded LRU cache sized for size entries, keyed by
// (contract_id, path) via common.PathKey.
func NewCache(size int) (*Cache, error) {
	c, err := common.NewCache(common.LRUShardConfig{CacheSize: size, NumShards: 16})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: c}, nil
}

// WithPersistence attaches an embedded KV store as a second cache tier.
// Entries written there are dropped wholesale on Purge, so a rollback
// never leaves a stale persisted row behind.
func (c *Cache) WithPersistence(db KVDatabase) *Cache {
	c.persist = db
	return c
}

func persistKey(key common.PathKey) []byte {
	b := make([]byte, 8, 8+len(key.Path))
	binary.BigEndian.PutUint64(b, uint64(key.ContractID))
	return append(b, key.Path...)
}

func (c *Cache) Get(key common.PathKey) (ContractStateRow, bool) {
	if v, ok := c.inner.Get(key); ok {
		row, ok := v.(ContractStateRow)
		return row, ok
	}
	if c.persist != nil {
		raw, found, err := c.persist.Get(persistKey(key))
		if err == nil && found {
			var row ContractStateRow
			if json.Unmarshal(raw, &row) == nil {
				c.inner.Add(key, row)
				return row, true
			}
		}
	}
	return ContractStateRow{}, false
}

func (c *Cache) Add(key common.PathKey, row ContractStateRow) {
	c.inner.Add(key, row)
	if c.persist != nil {
		if raw, err := json.Marshal(row); err == nil {
			if err := c.persist.Put(persistKey(key), raw); err != nil {
				logger.Warn("persistent cache put failed", "err", err)
			}
		}
	}
}

// Invalidate overwrites a cached entry with an empty row, which
// GetLatestContractState treats as a miss, and deletes the persisted
// copy; used whenever a new version of (contract_id, path) is written so
// stale reads never surface.
func (c *Cache) Invalidate(key common.PathKey) {
	c.inner.Add(key, ContractStateRow{})
	if c.persist != nil {
		if err := c.persist.Delete(persistKey(key)); err != nil {
			logger.Warn("persistent cache delete failed", "err", err)
		}
	}
}

func (c *Cache) Purge() {
	c.inner.Purge()
	if c.persist != nil {
		if err := c.persist.DropAll(); err != nil {
			logger.Warn("persistent cache drop failed", "err", err)
		}
	}
}
