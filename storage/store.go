// Package storage implements the path-structured key/value view over a
// relational store: savepoint-based simulation, append-only state
// versioning, cursor-paginated transaction history, and prefix/regexp
// path reads.
package storage

import (
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/kerrors"
	"github.com/ouziel-slama/kontor/log"
)

var logger = log.NewModuleLogger(log.Storage)

// Store wraps the single writable SQLite connection used by the
// reactor, plus a pool of read-only connections for concurrent readers,
// keeping to a one-writer, many-readers discipline.
type Store struct {
	writer  *sql.DB
	readers *sql.DB
	cache   *Cache
	spMu    sync.Mutex
}

// Open opens (creating if absent) the SQLite database at path and
// applies the schema. An in-memory database exists per connection, so
// the ":memory:" DSN shares the single writer handle with readers
// instead of opening a second, empty database.
func Open(path string) (*Store, error) {
	writer, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kerrors.Persistence("open writer", err)
	}
	writer.SetMaxOpenConns(1)

	readers := writer
	if path != ":memory:" {
		readers, err = sql.Open("sqlite", path)
		if err != nil {
			writer.Close()
			return nil, kerrors.Persistence("open readers", err)
		}
		if _, err := writer.Exec("PRAGMA journal_mode = WAL"); err != nil {
			return nil, kerrors.Persistence("enable wal", err)
		}
		if _, err := readers.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			return nil, kerrors.Persistence("set reader busy timeout", err)
		}
	}

	if _, err := writer.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, kerrors.Persistence("enable foreign keys", err)
	}
	if _, err := writer.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, kerrors.Persistence("set busy timeout", err)
	}
	if _, err := writer.Exec(schema); err != nil {
		return nil, kerrors.Persistence("apply schema", err)
	}

	return &Store{writer: writer, readers: readers}, nil
}

// WithCache attaches an optional read-through cache (storage/cache.go)
// in front of the latest-contract-state hot path.
func (s *Store) WithCache(c *Cache) *Store {
	s.cache = c
	return s
}

func (s *Store) Close() error {
	if s.readers != s.writer {
		s.readers.Close()
	}
	return s.writer.Close()
}

// --- blocks ---------------------------------------------------------

func (s *Store) InsertBlock(height uint64, hash chain.Hash) error {
	_, err := s.writer.Exec(`INSERT INTO blocks(height, hash) VALUES (?, ?)`, height, hash[:])
	if err != nil {
		return kerrors.Persistence("insert block", err)
	}
	return nil
}

// RollbackToHeight deletes every stored row with height > height,
// cascading to transactions, contract_state, and file_metadata; contracts
// has no foreign key to blocks, so its rows above height are deleted
// explicitly. This is the only rollback primitive; in-memory state must
// be resynced from the store afterward, never unwound in place.
func (s *Store) RollbackToHeight(height uint64) error {
	_, err := s.writer.Exec(`DELETE FROM blocks WHERE height > ?`, height)
	if err != nil {
		return kerrors.Persistence("rollback to height", err)
	}
	if _, err := s.writer.Exec(`DELETE FROM contracts WHERE height > ?`, height); err != nil {
		return kerrors.Persistence("rollback contracts to height", err)
	}
	// Any cached latest-value row above the rollback height is now
	// stale; the cache has no per-height index, so drop it wholesale.
	if s.cache != nil {
		s.cache.Purge()
	}
	return nil
}

func (s *Store) SelectBlockLatest() (height uint64, hash chain.Hash, found bool, err error) {
	row := s.readers.QueryRow(`SELECT height, hash FROM blocks ORDER BY height DESC LIMIT 1`)
	var hb []byte
	if scanErr := row.Scan(&height, &hb); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, chain.Hash{}, false, nil
		}
		return 0, chain.Hash{}, false, kerrors.Persistence("select latest block", scanErr)
	}
	copy(hash[:], hb)
	return height, hash, true, nil
}

func (s *Store) SelectBlockHeightByHash(hash chain.Hash) (height uint64, found bool, err error) {
	row := s.readers.QueryRow(`SELECT height FROM blocks WHERE hash = ?`, hash[:])
	if scanErr := row.Scan(&height); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, kerrors.Persistence("select block by hash", scanErr)
	}
	return height, true, nil
}

func (s *Store) SelectBlockAtHeight(height uint64) (hash chain.Hash, found bool, err error) {
	row := s.readers.QueryRow(`SELECT hash FROM blocks WHERE height = ?`, height)
	var hb []byte
	if scanErr := row.Scan(&hb); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return chain.Hash{}, false, nil
		}
		return chain.Hash{}, false, kerrors.Persistence("select block at height", scanErr)
	}
	copy(hash[:], hb)
	return hash, true, nil
}

// --- contracts --------------------------------------------------------

func (s *Store) InsertContract(name string, height uint64, txIndex int, bytes []byte) (int64, error) {
	res, err := s.writer.Exec(`INSERT INTO contracts(name, height, tx_index, bytes) VALUES (?, ?, ?, ?)`,
		name, height, txIndex, bytes)
	if err != nil {
		return 0, kerrors.Persistence("insert contract", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetContractIDFromAddress(addr chain.ContractAddress) (int64, bool, error) {
	row := s.readers.QueryRow(
		`SELECT id FROM contracts WHERE name = ? AND height = ? AND tx_index = ?`,
		addr.Name, addr.Height, addr.TxIndex)
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, kerrors.Persistence("get contract id", err)
	}
	return id, true, nil
}

func (s *Store) GetContractBytesByID(id int64) ([]byte, bool, error) {
	row := s.readers.QueryRow(`SELECT bytes FROM contracts WHERE id = ?`, id)
	var b []byte
	if err := row.Scan(&b); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, kerrors.Persistence("get contract bytes", err)
	}
	return b, true, nil
}

// --- transactions -----------------------------------------------------

func (s *Store) InsertTransaction(height uint64, txIndex int, txid chain.Txid) (int64, error) {
	res, err := s.writer.Exec(`INSERT INTO transactions(height, tx_index, txid) VALUES (?, ?, ?)`,
		height, txIndex, txid[:])
	if err != nil {
		return 0, kerrors.Persistence("insert transaction", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetTransactionByTxid(txid chain.Txid) (id int64, height uint64, txIndex int, found bool, err error) {
	row := s.readers.QueryRow(`SELECT id, height, tx_index FROM transactions WHERE txid = ?`, txid[:])
	if scanErr := row.Scan(&id, &height, &txIndex); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, 0, 0, false, nil
		}
		return 0, 0, 0, false, kerrors.Persistence("get transaction by txid", scanErr)
	}
	return id, height, txIndex, true, nil
}

func (s *Store) GetTransactionsAtHeight(height uint64) ([]TransactionRow, error) {
	rows, err := s.readers.Query(`SELECT id, height, tx_index, txid FROM transactions WHERE height = ? ORDER BY tx_index`, height)
	if err != nil {
		return nil, kerrors.Persistence("get transactions at height", err)
	}
	defer rows.Close()
	return scanTransactionRows(rows)
}

// TransactionRow is the {id, height, tx_index, txid} entity.
type TransactionRow struct {
	ID      int64
	Height  uint64
	TxIndex int
	Txid    chain.Txid
}

func scanTransactionRows(rows *sql.Rows) ([]TransactionRow, error) {
	var out []TransactionRow
	for rows.Next() {
		var r TransactionRow
		var txidBytes []byte
		if err := rows.Scan(&r.ID, &r.Height, &r.TxIndex, &txidBytes); err != nil {
			return nil, kerrors.Persistence("scan transaction row", err)
		}
		copy(r.Txid[:], txidBytes)
		out = append(out, r)
	}
	return out, rows.Err()
}
