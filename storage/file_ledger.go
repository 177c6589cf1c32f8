package storage

import (
	"database/sql"

	"github.com/ouziel-slama/kontor/kerrors"
)

// FileMetadataRow mirrors a registered file's descriptor plus
// {height, historical_root}. HistoricalRoot is nil for the first file
// ever registered.
type FileMetadataRow struct {
	ID             int64
	FileID         string
	Root           [32]byte
	PaddedLen      uint64
	OriginalSize   uint64
	Filename       string
	Height         uint64
	HistoricalRoot *[32]byte
}

// InsertFileMetadata registers a file once; immutable after insertion.
// historicalRoot is the ledger root immediately before this file is
// appended, computed by the caller (ledger.Ledger) under its own lock.
func (s *Store) InsertFileMetadata(fileID string, root [32]byte, paddedLen, originalSize uint64, filename string, height uint64, historicalRoot *[32]byte) (int64, error) {
	var hr interface{}
	if historicalRoot != nil {
		hr = historicalRoot[:]
	}
	res, err := s.writer.Exec(
		`INSERT INTO file_metadata(file_id, root, padded_len, original_size, filename, height, historical_root)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fileID, root[:], paddedLen, originalSize, filename, height, hr)
	if err != nil {
		return 0, kerrors.Persistence("insert file metadata", err)
	}
	return res.LastInsertId()
}

// ListFileMetadata returns every registered file ordered by id ascending,
// the order ledger.RebuildFromDB replays to reconstruct the tree.
func (s *Store) ListFileMetadata() ([]FileMetadataRow, error) {
	rows, err := s.readers.Query(
		`SELECT id, file_id, root, padded_len, original_size, filename, height, historical_root
		 FROM file_metadata ORDER BY id ASC`)
	if err != nil {
		return nil, kerrors.Persistence("list file metadata", err)
	}
	defer rows.Close()

	var out []FileMetadataRow
	for rows.Next() {
		var r FileMetadataRow
		var rootBytes []byte
		var hrBytes []byte
		if err := rows.Scan(&r.ID, &r.FileID, &rootBytes, &r.PaddedLen, &r.OriginalSize, &r.Filename, &r.Height, &hrBytes); err != nil {
			return nil, kerrors.Persistence("scan file metadata row", err)
		}
		copy(r.Root[:], rootBytes)
		if hrBytes != nil {
			var hr [32]byte
			copy(hr[:], hrBytes)
			r.HistoricalRoot = &hr
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetFileMetadataByFileID is used by contracts/filestorage to resolve a
// registered file's commitment root for proof verification.
func (s *Store) GetFileMetadataByFileID(fileID string) (FileMetadataRow, bool, error) {
	row := s.readers.QueryRow(
		`SELECT id, file_id, root, padded_len, original_size, filename, height, historical_root
		 FROM file_metadata WHERE file_id = ?`, fileID)
	var r FileMetadataRow
	var rootBytes, hrBytes []byte
	if err := row.Scan(&r.ID, &r.FileID, &rootBytes, &r.PaddedLen, &r.OriginalSize, &r.Filename, &r.Height, &hrBytes); err != nil {
		if err == sql.ErrNoRows {
			return FileMetadataRow{}, false, nil
		}
		return FileMetadataRow{}, false, kerrors.Persistence("get file metadata by file id", err)
	}
	copy(r.Root[:], rootBytes)
	if hrBytes != nil {
		var hr [32]byte
		copy(hr[:], hrBytes)
		r.HistoricalRoot = &hr
	}
	return r, true, nil
}
