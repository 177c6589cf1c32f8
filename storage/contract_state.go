package storage

import (
	"database/sql"
	"regexp"
	"strings"

	"github.com/ouziel-slama/kontor/common"
	"github.com/ouziel-slama/kontor/kerrors"
)

// ContractStateRow is the append-only {id, contract_id, tx_id,
// height, path, value, deleted} entity backing per-path contract state.
type ContractStateRow struct {
	ID         int64
	ContractID int64
	TxID       int64
	Height     uint64
	Path       string
	Value      []byte
	Deleted    bool
}

// InsertContractState appends a new version of (contract_id, path);
// deletion is expressed by inserting a tombstone row rather than
// updating or removing the previous one.
func (s *Store) InsertContractState(contractID, txID int64, height uint64, path string, value []byte) (int64, error) {
	res, err := s.writer.Exec(
		`INSERT INTO contract_state(contract_id, tx_id, height, path, value, deleted) VALUES (?, ?, ?, ?, ?, 0)`,
		contractID, txID, height, path, value)
	if err != nil {
		return 0, kerrors.Persistence("insert contract state", err)
	}
	id, err := res.LastInsertId()
	if err == nil && s.cache != nil {
		s.cache.Invalidate(common.PathKey{ContractID: contractID, Path: path})
	}
	return id, err
}

func (s *Store) DeleteContractState(contractID, txID int64, height uint64, path string) (int64, error) {
	res, err := s.writer.Exec(
		`INSERT INTO contract_state(contract_id, tx_id, height, path, value, deleted) VALUES (?, ?, ?, ?, NULL, 1)`,
		contractID, txID, height, path)
	if err != nil {
		return 0, kerrors.Persistence("delete contract state", err)
	}
	id, err := res.LastInsertId()
	if err == nil && s.cache != nil {
		s.cache.Invalidate(common.PathKey{ContractID: contractID, Path: path})
	}
	return id, err
}

// GetLatestContractState returns the row with the largest id for
// (contract_id, path). A tombstoned row is still returned (found=true,
// Deleted=true) so callers can distinguish "never written" from
// "written then deleted".
func (s *Store) GetLatestContractState(contractID int64, path string) (ContractStateRow, bool, error) {
	if s.cache != nil {
		// An invalidated entry is cached as an empty row (ID 0) and is
		// treated as a miss.
		if v, ok := s.cache.Get(common.PathKey{ContractID: contractID, Path: path}); ok && v.ID != 0 {
			return v, true, nil
		}
	}

	row := s.readers.QueryRow(
		`SELECT id, contract_id, tx_id, height, path, value, deleted
		 FROM contract_state WHERE contract_id = ? AND path = ?
		 ORDER BY id DESC LIMIT 1`, contractID, path)

	var r ContractStateRow
	var deleted int
	if err := row.Scan(&r.ID, &r.ContractID, &r.TxID, &r.Height, &r.Path, &r.Value, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return ContractStateRow{}, false, nil
		}
		return ContractStateRow{}, false, kerrors.Persistence("get latest contract state", err)
	}
	r.Deleted = deleted != 0

	if s.cache != nil {
		s.cache.Add(common.PathKey{ContractID: contractID, Path: path}, r)
	}
	return r, true, nil
}

// GetLatestContractStateValue is GetLatestContractState with the
// tombstone-as-absent collapse the read path normally wants.
func (s *Store) GetLatestContractStateValue(contractID int64, path string) ([]byte, bool, error) {
	row, found, err := s.GetLatestContractState(contractID, path)
	if err != nil || !found || row.Deleted {
		return nil, false, err
	}
	return row.Value, true, nil
}

// ExistsContractState reports whether any non-deleted row's path starts
// with prefix.
func (s *Store) ExistsContractState(contractID int64, prefix string) (bool, error) {
	row := s.readers.QueryRow(
		`SELECT 1 FROM contract_state
		 WHERE contract_id = ? AND path LIKE ? ESCAPE '\' AND deleted = 0 LIMIT 1`,
		contractID, escapeLike(prefix)+"%")
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, kerrors.Persistence("exists contract state", err)
	}
	return true, nil
}

func (s *Store) ContractHasState(contractID int64) (bool, error) {
	return s.ExistsContractState(contractID, "")
}

// PathPrefixFilterContractState streams the distinct first-segment path
// suffixes under prefix, one per call to next(), the lazy scan backing
// Map-field key iteration.
func (s *Store) PathPrefixFilterContractState(contractID int64, prefix string) (func() (string, bool, error), func()) {
	rows, err := s.readers.Query(
		`SELECT DISTINCT path FROM contract_state
		 WHERE contract_id = ? AND path LIKE ? ESCAPE '\' AND deleted = 0
		 ORDER BY path`, contractID, escapeLike(prefix)+"%")
	if err != nil {
		errNext := func() (string, bool, error) { return "", false, kerrors.Persistence("prefix stream", err) }
		return errNext, func() {}
	}

	seen := make(map[string]struct{})
	next := func() (string, bool, error) {
		for rows.Next() {
			var path string
			if scanErr := rows.Scan(&path); scanErr != nil {
				return "", false, kerrors.Persistence("scan prefix row", scanErr)
			}
			suffix := strings.TrimPrefix(path, prefix)
			segment := firstSegment(suffix)
			if _, dup := seen[segment]; dup {
				continue
			}
			seen[segment] = struct{}{}
			return segment, true, nil
		}
		return "", false, rows.Err()
	}
	return next, func() { rows.Close() }
}

func firstSegment(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

// MatchingPath returns the newest non-deleted row (largest id, the
// same latest-wins ordering GetLatestContractState uses) whose path
// matches pattern, used by variant readers to discover which case is
// stored. modernc.org/sqlite ships no REGEXP function, so candidates
// are fetched by contract and filtered in Go rather than pushing the
// regex into SQL.
func (s *Store) MatchingPath(contractID int64, pattern string) (ContractStateRow, bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ContractStateRow{}, false, kerrors.Validation("compile matching-path pattern", err)
	}

	rows, err := s.readers.Query(
		`SELECT id, contract_id, tx_id, height, path, value, deleted
		 FROM contract_state WHERE contract_id = ? AND deleted = 0 ORDER BY id DESC`, contractID)
	if err != nil {
		return ContractStateRow{}, false, kerrors.Persistence("matching path query", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r ContractStateRow
		var deleted int
		if err := rows.Scan(&r.ID, &r.ContractID, &r.TxID, &r.Height, &r.Path, &r.Value, &deleted); err != nil {
			return ContractStateRow{}, false, kerrors.Persistence("scan matching path row", err)
		}
		if re.MatchString(r.Path) {
			r.Deleted = deleted != 0
			return r, true, nil
		}
	}
	return ContractStateRow{}, false, rows.Err()
}
