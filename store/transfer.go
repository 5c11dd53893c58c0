package store

import (
	"database/sql"
	"fmt"

	"github.com/redshiftplayer/redshift-sync/logging"
)

// TransferStore provides CRUD on transferred_files.
type TransferStore struct {
	db *sql.DB
}

// NewTransferStore creates a TransferStore backed by the given database.
func NewTransferStore(db *sql.DB) *TransferStore {
	return &TransferStore{db: db}
}

// Mark records a completed transfer, replacing any previous record for the
// same relative path.
func (s *TransferStore) Mark(r TransferRecord) error {
	if r.Status == "" {
		r.Status = StatusTransferred
	}
	if r.TransferredAt == 0 {
		r.TransferredAt = nowFunc().Unix()
	}
	var udid any
	if r.DeviceUDID != "" {
		udid = r.DeviceUDID
	}
	_, err := s.db.Exec(`
		INSERT INTO transferred_files (rel_path, file_hash, file_size, mtime_ns, transferred_at, method, device_udid, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rel_path) DO UPDATE SET
			file_hash      = excluded.file_hash,
			file_size      = excluded.file_size,
			mtime_ns       = excluded.mtime_ns,
			transferred_at = excluded.transferred_at,
			method         = excluded.method,
			device_udid    = excluded.device_udid,
			status         = excluded.status
	`, r.RelPath, r.Hash, r.Size, r.MtimeNS, r.TransferredAt, r.Method, udid, r.Status)
	if err != nil {
		logging.Sub("transferstore").Error("mark failed", "relPath", r.RelPath, "err", err)
		return fmt.Errorf("mark transferred: %w", err)
	}
	return nil
}

// Get retrieves the record for a relative path, or nil when absent.
func (s *TransferStore) Get(relPath string) (*TransferRecord, error) {
	r := &TransferRecord{}
	var udid sql.NullString
	err := s.db.QueryRow(`
		SELECT rel_path, file_hash, file_size, mtime_ns, transferred_at, method, device_udid, status
		FROM transferred_files WHERE rel_path = ?
	`, relPath).Scan(&r.RelPath, &r.Hash, &r.Size, &r.MtimeNS, &r.TransferredAt, &r.Method, &udid, &r.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer record: %w", err)
	}
	r.DeviceUDID = udid.String
	return r, nil
}

// All returns every record keyed by relative path.
func (s *TransferStore) All() (map[string]TransferRecord, error) {
	rows, err := s.db.Query(`
		SELECT rel_path, file_hash, file_size, mtime_ns, transferred_at, method, device_udid, status
		FROM transferred_files
	`)
	if err != nil {
		return nil, fmt.Errorf("list transfer records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]TransferRecord)
	for rows.Next() {
		var r TransferRecord
		var udid sql.NullString
		if err := rows.Scan(&r.RelPath, &r.Hash, &r.Size, &r.MtimeNS, &r.TransferredAt, &r.Method, &udid, &r.Status); err != nil {
			return nil, fmt.Errorf("scan transfer record: %w", err)
		}
		r.DeviceUDID = udid.String
		out[r.RelPath] = r
	}
	return out, rows.Err()
}

// Delete removes the record for a relative path.
func (s *TransferStore) Delete(relPath string) error {
	if _, err := s.db.Exec("DELETE FROM transferred_files WHERE rel_path = ?", relPath); err != nil {
		return fmt.Errorf("delete transfer record: %w", err)
	}
	return nil
}

// SetStatus updates only the status of an existing record.
func (s *TransferStore) SetStatus(relPath, status string) error {
	if _, err := s.db.Exec("UPDATE transferred_files SET status = ? WHERE rel_path = ?", status, relPath); err != nil {
		return fmt.Errorf("set transfer status: %w", err)
	}
	return nil
}

// HashKnown reports whether any record still believed present remotely
// carries the given content hash. A hash match means the content was already
// pushed, possibly under a different path (rename). Records downgraded to
// missing_remote are excluded: their content needs pushing again.
func (s *TransferStore) HashKnown(hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM transferred_files WHERE file_hash = ? AND status != ?",
		hash, StatusMissingRemote).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup hash: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of transfer records.
func (s *TransferStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM transferred_files").Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfer records: %w", err)
	}
	return n, nil
}
