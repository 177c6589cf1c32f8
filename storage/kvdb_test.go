package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/common"
)

func TestKVDatabaseRoundTrip(t *testing.T) {
	for _, backend := range []KVBackend{KVLevelDB, KVBadgerDB} {
		backend := backend
		t.Run(string(backend), func(t *testing.T) {
			db, err := OpenKVDatabase(backend, t.TempDir())
			require.NoError(t, err)
			defer db.Close()

			_, found, err := db.Get([]byte("missing"))
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, db.Put([]byte("k"), []byte("v")))
			v, found, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("v"), v)

			require.NoError(t, db.Delete([]byte("k")))
			_, found, err = db.Get([]byte("k"))
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, db.Put([]byte("a"), []byte("1")))
			require.NoError(t, db.Put([]byte("b"), []byte("2")))
			require.NoError(t, db.DropAll())
			_, found, err = db.Get([]byte("a"))
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestOpenKVDatabaseRejectsUnknownBackend(t *testing.T) {
	_, err := OpenKVDatabase("rocksdb", t.TempDir())
	require.Error(t, err)
}

// TestCachePersistentTier verifies the second tier survives an LRU miss:
// a row written through one Cache is readable through a fresh Cache
// sharing the same KVDatabase, and Purge empties both tiers.
func TestCachePersistentTier(t *testing.T) {
	kv, err := OpenKVDatabase(KVLevelDB, t.TempDir())
	require.NoError(t, err)
	defer kv.Close()

	c1, err := NewCache(64)
	require.NoError(t, err)
	c1.WithPersistence(kv)

	key := common.PathKey{ContractID: 7, Path: "state/balance"}
	row := ContractStateRow{ID: 42, ContractID: 7, Height: 100, Path: "state/balance", Value: []byte("10")}
	c1.Add(key, row)

	c2, err := NewCache(64)
	require.NoError(t, err)
	c2.WithPersistence(kv)

	got, ok := c2.Get(key)
	require.True(t, ok)
	require.Equal(t, row, got)

	c2.Purge()
	c3, err := NewCache(64)
	require.NoError(t, err)
	c3.WithPersistence(kv)
	_, ok = c3.Get(key)
	require.False(t, ok)
}
