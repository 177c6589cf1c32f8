package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ouziel-slama/kontor/kerrors"
)

var savepointSeq int64

// Savepoint is a named transactional scope on the writer connection. The
// reactor opens one per block and releases it, and opens one per
// simulation and always rolls it back. Begin holds the store's savepoint
// mutex until Release or Rollback, so savepoints on one Store neither
// nest nor overlap; reads through the reader pool take no lock.
type Savepoint struct {
	store *Store
	name  string
	mu    *sync.Mutex
}

// Begin opens a new named savepoint. Callers must call exactly one of
// Release or Rollback.
func (s *Store) Begin() (*Savepoint, error) {
	s.spMu.Lock()
	name := fmt.Sprintf("sp_%d", atomic.AddInt64(&savepointSeq, 1))
	if _, err := s.writer.Exec("SAVEPOINT " + name); err != nil {
		s.spMu.Unlock()
		return nil, kerrors.Persistence("begin savepoint", err)
	}
	return &Savepoint{store: s, name: name, mu: &s.spMu}, nil
}

func (sp *Savepoint) Release() error {
	defer sp.mu.Unlock()
	_, err := sp.store.writer.Exec("RELEASE SAVEPOINT " + sp.name)
	if err != nil {
		return kerrors.Persistence("release savepoint", err)
	}
	return nil
}

// Rollback unconditionally discards every change made since Begin, the
// only mechanism simulate_handler uses to guarantee purity.
func (sp *Savepoint) Rollback() error {
	defer sp.mu.Unlock()
	_, err := sp.store.writer.Exec("ROLLBACK TO SAVEPOINT " + sp.name)
	if err != nil {
		return kerrors.Persistence("rollback savepoint", err)
	}
	_, err = sp.store.writer.Exec("RELEASE SAVEPOINT " + sp.name)
	if sp.store.cache != nil {
		sp.store.cache.Purge()
	}
	if err != nil {
		return kerrors.Persistence("release after rollback", err)
	}
	return nil
}
