package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateCommand persists a new command in the pending state and
// returns it.
func (s *Store) CreateCommand(userID int64, deviceID *int64, commandType, action string, parameters map[string]string) (*Command, error) {
	if parameters == nil {
		parameters = map[string]string{}
	}
	paramsJSON, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	cmd := &Command{
		ID:          uuid.NewString(),
		UserID:      userID,
		DeviceID:    deviceID,
		CommandType: commandType,
		Action:      action,
		Parameters:  parameters,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = s.db.Exec(`
		INSERT INTO commands
			(id, user_id, device_id, command_type, action, parameters, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.UserID, nullableInt64(cmd.DeviceID), cmd.CommandType,
		cmd.Action, string(paramsJSON), cmd.Status,
		cmd.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("create command: %w", err)
	}
	return cmd, nil
}

// FindCommand looks a command up by ID.
func (s *Store) FindCommand(id string) (*Command, error) {
	row := s.db.QueryRow(commandSelect+` WHERE id = ?`, id)
	return scanCommand(row)
}

// ListPendingCommands returns all pending commands for a device in
// creation order. Devices poll this repeatedly; delivery is
// at-least-once and settlement dedupes. Ordering is by rowid:
// created_at is stored as RFC3339Nano text, which is not
// lexicographically monotonic within a second.
func (s *Store) ListPendingCommands(deviceID int64) ([]*Command, error) {
	rows, err := s.db.Query(commandSelect+`
		WHERE device_id = ? AND status = ?
		ORDER BY rowid`, deviceID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending commands: %w", err)
	}
	defer rows.Close()

	var cmds []*Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

// ListCommandsForUser returns a user's most recent commands, newest
// first, capped at limit.
func (s *Store) ListCommandsForUser(userID int64, limit int) ([]*Command, error) {
	rows, err := s.db.Query(commandSelect+`
		WHERE user_id = ?
		ORDER BY rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list commands for user %d: %w", userID, err)
	}
	defer rows.Close()

	var cmds []*Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

// MarkCommandProcessing moves a pending command to processing.
// Advisory: devices that execute atomically may skip this and settle
// straight from pending. Already-claimed or terminal commands are
// left untouched.
func (s *Store) MarkCommandProcessing(id string) error {
	res, err := s.db.Exec(`
		UPDATE commands SET status = ? WHERE id = ? AND status = ?`,
		StatusProcessing, id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark command processing %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish missing from already claimed.
		if _, err := s.FindCommand(id); err != nil {
			return err
		}
	}
	return nil
}

// SettleCommand applies a terminal outcome to a command. The update is
// conditional on the row not already being terminal, so exactly one of
// two concurrent settlements wins; the loser reports applied=false.
// Returns ErrNotFound if the command does not exist.
func (s *Store) SettleCommand(id string, success bool, result map[string]any, errorDetail string) (applied bool, err error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	if success {
		resultJSON, merr := json.Marshal(result)
		if merr != nil {
			return false, fmt.Errorf("encode result: %w", merr)
		}
		res, err = s.db.Exec(`
			UPDATE commands
			SET status = ?, result = ?, error_message = NULL, completed_at = ?
			WHERE id = ? AND status NOT IN (?, ?)`,
			StatusCompleted, string(resultJSON), now,
			id, StatusCompleted, StatusFailed)
	} else {
		res, err = s.db.Exec(`
			UPDATE commands
			SET status = ?, result = NULL, error_message = ?, completed_at = ?
			WHERE id = ? AND status NOT IN (?, ?)`,
			StatusFailed, errorDetail, now,
			id, StatusCompleted, StatusFailed)
	}
	if err != nil {
		return false, fmt.Errorf("settle command %q: %w", id, err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}

	// Nothing updated: either unknown ID or already terminal.
	if _, err := s.FindCommand(id); err != nil {
		return false, err
	}
	return false, nil
}

const commandSelect = `
	SELECT id, user_id, device_id, command_type, action, parameters,
	       status, result, error_message, created_at, completed_at
	FROM commands`

func scanCommand(row scanner) (*Command, error) {
	var (
		c              Command
		deviceID       sql.NullInt64
		params         string
		result, errMsg sql.NullString
		createdAt      string
		completedAt    sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserID, &deviceID, &c.CommandType, &c.Action,
		&params, &c.Status, &result, &errMsg, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan command: %w", err)
	}

	if deviceID.Valid {
		c.DeviceID = &deviceID.Int64
	}
	if err := json.Unmarshal([]byte(params), &c.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters for %q: %w", c.ID, err)
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &c.Result); err != nil {
			return nil, fmt.Errorf("decode result for %q: %w", c.ID, err)
		}
	}
	c.ErrorMessage = errMsg.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		c.CompletedAt = &t
	}
	return &c, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
