// Package common holds small shared primitives used by more than one
// package: a sharded LRU cache (this file) and the path-key type the
// storage layer's read-through cache keys entries by (pathkey.go).
package common

import (
	"errors"
	"math"

	lru "github.com/hashicorp/golang-lru"
)

// CacheKey is anything that can pick its own shard, so a sharded cache
// never needs to know the concrete key type it holds.
type CacheKey interface {
	getShardIndex(shardMask int) int
}

// Cache is the interface storage.Cache wraps; only one implementation
// exists (the sharded LRU below), kept as an interface so storage/cache.go
// doesn't need to know the sharding strategy.
type Cache interface {
	Add(key CacheKey, value interface{}) (evicted bool)
	Get(key CacheKey) (value interface{}, ok bool)
	Contains(key CacheKey) bool
	Purge()
}

// CacheScale lets an operator size every cache as a percentage of its
// configured preset size (preset * CacheScale / 100).
var CacheScale int = 100

const (
	minShardSize = 10
	minNumShards = 2
)

type lruShardCache struct {
	shards         []*lru.Cache
	shardIndexMask int
}

func (c *lruShardCache) Add(key CacheKey, val interface{}) (evicted bool) {
	return c.shards[key.getShardIndex(c.shardIndexMask)].Add(key, val)
}

func (c *lruShardCache) Get(key CacheKey) (value interface{}, ok bool) {
	return c.shards[key.getShardIndex(c.shardIndexMask)].Get(key)
}

func (c *lruShardCache) Contains(key CacheKey) bool {
	return c.shards[key.getShardIndex(c.shardIndexMask)].Contains(key)
}

func (c *lruShardCache) Purge() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}

// NewCache builds a Cache from a CacheConfiger, so callers pick the
// backend by constructing the matching config value.
func NewCache(config CacheConfiger) (Cache, error) {
	if config == nil {
		return nil, errors.New("cache config is nil")
	}
	return config.newCache()
}

type CacheConfiger interface {
	newCache() (Cache, error)
}

// LRUShardConfig builds a power-of-two-sharded LRU cache, sharding by
// CacheKey.getShardIndex so lookups for a single key never contend with
// unrelated keys' shards.
type LRUShardConfig struct {
	CacheSize int
	NumShards int
}

func (c LRUShardConfig) newCache() (Cache, error) {
	cacheSize := c.CacheSize * CacheScale / 100
	if cacheSize < 1 {
		return nil, errors.New("must provide a positive cache size")
	}

	numShards := c.makeNumShardsPowOf2(cacheSize)
	shardSize := cacheSize / numShards

	shard := &lruShardCache{shards: make([]*lru.Cache, numShards), shardIndexMask: numShards - 1}
	for i := 0; i < numShards; i++ {
		s, err := lru.New(shardSize)
		if err != nil {
			return nil, err
		}
		shard.shards[i] = s
	}
	return shard, nil
}

// makeNumShardsPowOf2 caps NumShards at cacheSize/minShardSize and rounds
// it down to a power of two, never below minNumShards; a cache smaller
// than minNumShards*minShardSize therefore gets shards below
// minShardSize.
func (c LRUShardConfig) makeNumShardsPowOf2(cacheSize int) int {
	maxNumShards := float64(cacheSize / minShardSize)
	numShards := int(math.Min(float64(c.NumShards), maxNumShards))

	for numShards&(numShards-1) != 0 {
		numShards &= numShards - 1
	}
	if numShards < minNumShards {
		numShards = minNumShards
	}
	return numShards
}
