// Package ledger implements the file-commitment registry: an in-memory
// Merkle-like commitment over the metadata roots of every registered
// file, in insertion order, with a per-insert historical root snapshot
// persisted alongside each row.
package ledger

import (
	"sync"

	"github.com/ouziel-slama/kontor/log"
	"github.com/ouziel-slama/kontor/storage"
)

var logger = log.NewModuleLogger(log.Ledger)

// FileDescriptor is {file_id, root, padded_len, original_size, filename},
// registered once per file and immutable.
type FileDescriptor struct {
	FileID       string
	Root         [32]byte
	PaddedLen    uint64
	OriginalSize uint64
	Filename     string
}

// Ledger owns the in-memory Merkle tree over registered files' roots.
// The dirty bit is flipped under mu and cleared only after a successful
// rebuild.
type Ledger struct {
	store *storage.Store

	mu     sync.Mutex
	leaves [][32]byte
	dirty  bool
}

// New wraps store; callers should immediately call RebuildFromDB (or
// ForceResyncFromDB) to populate the in-memory tree from existing rows.
func New(store *storage.Store) *Ledger {
	return &Ledger{store: store}
}

// AddFile appends desc to the in-memory structure and persists a
// FileMetadataRow whose historical_root is the ledger root immediately
// before this append (nil for the very first file). Sets the dirty bit:
// the in-memory append alone is never trusted to keep the store in sync.
func (l *Ledger) AddFile(height uint64, desc FileDescriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var historical *[32]byte
	if len(l.leaves) > 0 {
		r := merkleRoot(l.leaves)
		historical = &r
	}

	if _, err := l.store.InsertFileMetadata(desc.FileID, desc.Root, desc.PaddedLen, desc.OriginalSize, desc.Filename, height, historical); err != nil {
		return err
	}

	l.leaves = append(l.leaves, desc.Root)
	l.dirty = true
	return nil
}

// Root returns the current ledger root.
func (l *Ledger) Root() [32]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return merkleRoot(l.leaves)
}

// RebuildFromDB loads every file_metadata row ordered by id ascending and
// rebuilds the in-memory tree from scratch. It does not recompute
// historical roots; those are restored verbatim from the rows.
func (l *Ledger) RebuildFromDB() error {
	rows, err := l.store.ListFileMetadata()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	leaves := make([][32]byte, len(rows))
	for i, r := range rows {
		leaves[i] = r.Root
	}
	l.leaves = leaves
	l.dirty = false
	logger.Info("ledger rebuilt from store", "files", len(rows))
	return nil
}

// ResyncFromDB rebuilds only if the dirty bit is set, clearing it on
// success; the normal-operation path after AddFile.
func (l *Ledger) ResyncFromDB() error {
	l.mu.Lock()
	dirty := l.dirty
	l.mu.Unlock()
	if !dirty {
		return nil
	}
	return l.RebuildFromDB()
}

// ForceResyncFromDB rebuilds unconditionally, bypassing the dirty bit.
// Callers must use this (never ResyncFromDB) after a rollback, because
// the in-memory tree is already inconsistent with the store even if the
// bit happens to read clean.
func (l *Ledger) ForceResyncFromDB() error {
	return l.RebuildFromDB()
}

// HistoricalRootsFromDB returns the persisted historical_root for every
// row, verbatim, for cross-checking against recomputed roots.
func (l *Ledger) HistoricalRootsFromDB() ([]*[32]byte, error) {
	rows, err := l.store.ListFileMetadata()
	if err != nil {
		return nil, err
	}
	out := make([]*[32]byte, len(rows))
	for i, r := range rows {
		out[i] = r.HistoricalRoot
	}
	return out, nil
}
