package common

import "hash/fnv"

// PathKey identifies a cached contract-state entry by its owning contract
// and storage path. It implements CacheKey so the storage layer can reuse
// the sharded LRU cache below instead of rolling its own.
type PathKey struct {
	ContractID int64
	Path       string
}

func (k PathKey) getShardIndex(shardMask int) int {
	h := fnv.New32a()
	h.Write([]byte(k.Path))
	return int(h.Sum32()) & shardMask
}
