package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertUser creates a user for the given chat ID, or refreshes the
// profile fields on an existing one. Returns the stored row.
func (s *Store) UpsertUser(chatID, username, firstName, lastName string) (*User, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.Exec(`
		INSERT INTO users (chat_id, username, first_name, last_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at`,
		chatID, username, firstName, lastName, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user %q: %w", chatID, err)
	}

	return s.FindUserByChatID(chatID)
}

// FindUserByChatID looks a user up by chat identifier.
func (s *Store) FindUserByChatID(chatID string) (*User, error) {
	row := s.db.QueryRow(`
		SELECT id, chat_id, username, first_name, last_name,
		       is_active, is_admin, created_at, updated_at
		FROM users WHERE chat_id = ?`, chatID)
	return scanUser(row)
}

// FindUser looks a user up by row ID.
func (s *Store) FindUser(id int64) (*User, error) {
	row := s.db.QueryRow(`
		SELECT id, chat_id, username, first_name, last_name,
		       is_active, is_admin, created_at, updated_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u                    User
		isActive, isAdmin    int
		createdAt, updatedAt string
	)
	err := row.Scan(&u.ID, &u.ChatID, &u.Username, &u.FirstName, &u.LastName,
		&isActive, &isAdmin, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.IsActive = isActive != 0
	u.IsAdmin = isAdmin != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &u, nil
}
