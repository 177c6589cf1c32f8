package storage

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// KVDatabase is the embedded key/value surface backing the persistent
// tier of the contract-state read-through cache. Get reports
// (nil, false, nil) for a missing key rather than an error.
type KVDatabase interface {
	Put(key, value []byte) error
	Get(key []byte) (value []byte, found bool, err error)
	Delete(key []byte) error
	// DropAll removes every key; the cache calls it whenever a
	// savepoint rollback or chain rollback makes any cached row suspect.
	DropAll() error
	Close() error
}

// KVBackend selects which embedded store implements KVDatabase.
type KVBackend string

const (
	KVLevelDB  KVBackend = "leveldb"
	KVBadgerDB KVBackend = "badger"
)

// OpenKVDatabase opens the configured backend rooted at dir, creating
// the directory if needed.
func OpenKVDatabase(backend KVBackend, dir string) (KVDatabase, error) {
	switch backend {
	case KVLevelDB:
		return newLevelDB(dir)
	case KVBadgerDB:
		return newBadgerDB(dir)
	default:
		return nil, fmt.Errorf("unknown kv backend: %q", backend)
	}
}

const ldbOpenFilesCacheCapacity = 64

type levelDBStore struct {
	fn string // filename for reporting
	db *leveldb.DB
}

func newLevelDB(dir string) (*levelDBStore, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{
		OpenFilesCacheCapacity: ldbOpenFilesCacheCapacity,
		Filter:                 filter.NewBloomFilter(10),
	})
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("allocated leveldb state cache", "dir", dir)
	return &levelDBStore{fn: dir, db: db}, nil
}

func (s *levelDBStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *levelDBStore) Get(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *levelDBStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *levelDBStore) DropAll() error {
	batch := new(leveldb.Batch)
	it := s.db.NewIterator(nil, nil)
	for it.Next() {
		key := make([]byte, len(it.Key()))
		copy(key, it.Key())
		batch.Delete(key)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelDBStore) Close() error {
	logger.Info("closing leveldb state cache", "dir", s.fn)
	return s.db.Close()
}

type badgerDBStore struct {
	fn string
	db *badger.DB
}

func newBadgerDB(dir string) (*badgerDBStore, error) {
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("badger dir is not a directory: %v", dir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create badger dir %v: %v", dir, err)
		}
	} else {
		return nil, err
	}

	db, err := badger.Open(badger.DefaultOptions(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %v: %v", dir, err)
	}
	logger.Info("allocated badger state cache", "dir", dir)
	return &badgerDBStore{fn: dir, db: db}, nil
}

func (s *badgerDBStore) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *badgerDBStore) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *badgerDBStore) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *badgerDBStore) DropAll() error {
	return s.db.DropAll()
}

func (s *badgerDBStore) Close() error {
	logger.Info("closing badger state cache", "dir", s.fn)
	return s.db.Close()
}
