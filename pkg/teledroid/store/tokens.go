package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateOTP stores a short-lived single-use linking code for a
// user/device pair. Any previous unconsumed OTPs for the same pair are
// invalidated first.
func (s *Store) CreateOTP(userID int64, deviceID, code string, expiresAt time.Time) (*AuthToken, error) {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create otp: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE auth_tokens SET is_used = 1
		WHERE user_id = ? AND device_id = ? AND otp_code != '' AND is_used = 0`,
		userID, deviceID); err != nil {
		return nil, fmt.Errorf("invalidate old otps: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO auth_tokens
			(user_id, device_id, otp_code, otp_expires_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, deviceID, code,
		expiresAt.UTC().Format(time.RFC3339),
		expiresAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("create otp: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create otp: %w", err)
	}

	id, _ := res.LastInsertId()
	exp := expiresAt.UTC()
	return &AuthToken{
		ID:           id,
		UserID:       userID,
		DeviceID:     deviceID,
		OTPCode:      code,
		OTPExpiresAt: &exp,
		ExpiresAt:    exp,
		CreatedAt:    now,
	}, nil
}

// ConsumeOTP marks an unexpired, unused OTP as used and returns it.
// The consumed flag is set in the same conditional update that checks
// it, so a code can be redeemed at most once. Returns ErrNotFound for
// unknown, expired or already-used codes.
func (s *Store) ConsumeOTP(deviceID, code string) (*AuthToken, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := s.db.Exec(`
		UPDATE auth_tokens SET is_used = 1
		WHERE device_id = ? AND otp_code = ? AND is_used = 0 AND otp_expires_at > ?`,
		deviceID, code, now)
	if err != nil {
		return nil, fmt.Errorf("consume otp: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	row := s.db.QueryRow(tokenSelect+`
		WHERE device_id = ? AND otp_code = ? AND is_used = 1
		ORDER BY id DESC LIMIT 1`, deviceID, code)
	return scanToken(row)
}

// CreateDeviceToken stores the hash of an issued device token.
func (s *Store) CreateDeviceToken(userID int64, deviceID, tokenHash string, expiresAt time.Time) (*AuthToken, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO auth_tokens (user_id, device_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, deviceID, tokenHash,
		expiresAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("create device token: %w", err)
	}

	id, _ := res.LastInsertId()
	return &AuthToken{
		ID:        id,
		UserID:    userID,
		DeviceID:  deviceID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now,
	}, nil
}

// FindDeviceTokens returns all unexpired token rows for a device,
// newest first. The caller verifies the presented token against the
// stored hashes.
func (s *Store) FindDeviceTokens(deviceID string) ([]*AuthToken, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.Query(tokenSelect+`
		WHERE device_id = ? AND token_hash != '' AND expires_at > ?
		ORDER BY id DESC`, deviceID, now)
	if err != nil {
		return nil, fmt.Errorf("find device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*AuthToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeleteExpiredTokens prunes expired token and OTP rows. Returns the
// number removed.
func (s *Store) DeleteExpiredTokens(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_tokens WHERE expires_at <= ?`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const tokenSelect = `
	SELECT id, user_id, device_id, token_hash, otp_code, otp_expires_at,
	       is_used, expires_at, created_at
	FROM auth_tokens`

func scanToken(row scanner) (*AuthToken, error) {
	var (
		t                    AuthToken
		otpExpires           sql.NullString
		isUsed               int
		expiresAt, createdAt string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.DeviceID, &t.TokenHash, &t.OTPCode,
		&otpExpires, &isUsed, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan auth token: %w", err)
	}

	if otpExpires.Valid {
		ts, _ := time.Parse(time.RFC3339, otpExpires.String)
		t.OTPExpiresAt = &ts
	}
	t.IsUsed = isUsed != 0
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}
