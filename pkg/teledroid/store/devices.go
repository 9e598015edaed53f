package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LinkDevice registers a device for a user, or refreshes an existing
// registration with the same device identifier. Relinking never
// duplicates the row; it re-binds ownership and marks the device
// online.
func (s *Store) LinkDevice(userID int64, deviceID, name, model, androidVersion string) (*Device, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.Exec(`
		INSERT INTO devices
			(user_id, device_id, device_name, device_model, android_version,
			 is_online, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			user_id = excluded.user_id,
			device_name = excluded.device_name,
			device_model = excluded.device_model,
			android_version = excluded.android_version,
			is_online = 1,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		userID, deviceID, name, model, androidVersion, now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("link device %q: %w", deviceID, err)
	}

	return s.FindDeviceByDeviceID(deviceID)
}

// FindDeviceByDeviceID looks a device up by its stable agent identifier.
func (s *Store) FindDeviceByDeviceID(deviceID string) (*Device, error) {
	row := s.db.QueryRow(deviceSelect+` WHERE device_id = ?`, deviceID)
	return scanDevice(row)
}

// FindDevice looks a device up by row ID.
func (s *Store) FindDevice(id int64) (*Device, error) {
	row := s.db.QueryRow(deviceSelect+` WHERE id = ?`, id)
	return scanDevice(row)
}

// ListDevicesForUser returns all devices owned by a user, oldest first.
func (s *Store) ListDevicesForUser(userID int64) ([]*Device, error) {
	rows, err := s.db.Query(deviceSelect+` WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices for user %d: %w", userID, err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// TouchDevice records a heartbeat: marks the device online and updates
// its last-seen timestamp and optional push token.
func (s *Store) TouchDevice(deviceID, pushToken string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var res sql.Result
	var err error
	if pushToken != "" {
		res, err = s.db.Exec(`
			UPDATE devices SET is_online = 1, last_seen = ?, push_token = ?, updated_at = ?
			WHERE device_id = ?`, now, pushToken, now, deviceID)
	} else {
		res, err = s.db.Exec(`
			UPDATE devices SET is_online = 1, last_seen = ?, updated_at = ?
			WHERE device_id = ?`, now, now, deviceID)
	}
	if err != nil {
		return fmt.Errorf("touch device %q: %w", deviceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDeviceOffline flips the advisory liveness flag off.
func (s *Store) MarkDeviceOffline(deviceID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE devices SET is_online = 0, updated_at = ? WHERE device_id = ?`,
		now, deviceID)
	if err != nil {
		return fmt.Errorf("mark device offline %q: %w", deviceID, err)
	}
	return nil
}

// UnlinkDevicesForUser removes every device owned by a user in one
// transaction, together with their auth tokens. Returns the number of
// devices removed. Commands and scheduled tasks go with the devices
// via foreign keys.
func (s *Store) UnlinkDevicesForUser(userID int64) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin unlink: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM auth_tokens WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("delete tokens for user %d: %w", userID, err)
	}

	res, err := tx.Exec(`DELETE FROM devices WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete devices for user %d: %w", userID, err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit unlink: %w", err)
	}
	return n, nil
}

const deviceSelect = `
	SELECT id, user_id, device_id, device_name, device_model, android_version,
	       push_token, is_online, last_seen, created_at, updated_at
	FROM devices`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var (
		d                              Device
		isOnline                       int
		lastSeen, createdAt, updatedAt string
	)
	err := row.Scan(&d.ID, &d.UserID, &d.DeviceID, &d.DeviceName, &d.DeviceModel,
		&d.AndroidVersion, &d.PushToken, &isOnline, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}

	d.IsOnline = isOnline != 0
	d.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &d, nil
}
