package store

import (
	"database/sql"
	"fmt"
)

// DeviceStore persists Wi-Fi pairing results keyed by device UDID.
type DeviceStore struct {
	db *sql.DB
}

// NewDeviceStore creates a DeviceStore backed by the given database.
func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// Save inserts or replaces a paired device.
func (s *DeviceStore) Save(d PairedDevice) error {
	if d.PairedAt == 0 {
		d.PairedAt = nowFunc().Unix()
	}
	_, err := s.db.Exec(`
		INSERT INTO paired_devices (udid, name, auth_token, lan_address, paired_at, last_seen_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(udid) DO UPDATE SET
			name         = excluded.name,
			auth_token   = excluded.auth_token,
			lan_address  = excluded.lan_address,
			last_seen_ns = excluded.last_seen_ns
	`, d.UDID, d.Name, d.AuthToken, d.LANAddress, d.PairedAt, d.LastSeenNS)
	if err != nil {
		return fmt.Errorf("save paired device: %w", err)
	}
	return nil
}

// Get retrieves a paired device by UDID, or nil when unknown.
func (s *DeviceStore) Get(udid string) (*PairedDevice, error) {
	d := &PairedDevice{}
	err := s.db.QueryRow(`
		SELECT udid, name, auth_token, lan_address, paired_at, last_seen_ns
		FROM paired_devices WHERE udid = ?
	`, udid).Scan(&d.UDID, &d.Name, &d.AuthToken, &d.LANAddress, &d.PairedAt, &d.LastSeenNS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get paired device: %w", err)
	}
	return d, nil
}

// All returns every paired device.
func (s *DeviceStore) All() ([]PairedDevice, error) {
	rows, err := s.db.Query(`
		SELECT udid, name, auth_token, lan_address, paired_at, last_seen_ns FROM paired_devices
	`)
	if err != nil {
		return nil, fmt.Errorf("list paired devices: %w", err)
	}
	defer rows.Close()

	var out []PairedDevice
	for rows.Next() {
		var d PairedDevice
		if err := rows.Scan(&d.UDID, &d.Name, &d.AuthToken, &d.LANAddress, &d.PairedAt, &d.LastSeenNS); err != nil {
			return nil, fmt.Errorf("scan paired device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Touch updates last_seen for a device the discovery loop just observed.
func (s *DeviceStore) Touch(udid string, seenNS int64) error {
	if _, err := s.db.Exec("UPDATE paired_devices SET last_seen_ns = ? WHERE udid = ?", seenNS, udid); err != nil {
		return fmt.Errorf("touch paired device: %w", err)
	}
	return nil
}

// Delete removes a paired device, forcing re-pairing next time.
func (s *DeviceStore) Delete(udid string) error {
	if _, err := s.db.Exec("DELETE FROM paired_devices WHERE udid = ?", udid); err != nil {
		return fmt.Errorf("delete paired device: %w", err)
	}
	return nil
}
