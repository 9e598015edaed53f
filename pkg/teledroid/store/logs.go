package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendLog records an audit entry.
func (s *Store) AppendLog(l *OperationLog) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO operation_logs
			(user_id, device_id, command_id, operation_type, description,
			 ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UserID, nullableInt64(l.DeviceID), emptyToNull(l.CommandID),
		l.OperationType, l.Description, l.IPAddress, l.UserAgent,
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append operation log: %w", err)
	}

	l.ID, _ = res.LastInsertId()
	l.CreatedAt = now
	return nil
}

// ListLogsForUser returns a user's most recent audit entries, newest
// first, capped at limit.
func (s *Store) ListLogsForUser(userID int64, limit int) ([]*OperationLog, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, device_id, command_id, operation_type,
		       description, ip_address, user_agent, created_at
		FROM operation_logs
		WHERE user_id = ?
		ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs for user %d: %w", userID, err)
	}
	defer rows.Close()

	var logs []*OperationLog
	for rows.Next() {
		var (
			l         OperationLog
			deviceID  sql.NullInt64
			commandID sql.NullString
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.UserID, &deviceID, &commandID,
			&l.OperationType, &l.Description, &l.IPAddress, &l.UserAgent,
			&createdAt); err != nil {
			return nil, fmt.Errorf("scan operation log: %w", err)
		}
		if deviceID.Valid {
			l.DeviceID = &deviceID.Int64
		}
		l.CommandID = commandID.String
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func emptyToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
