// Package command owns the device-command lifecycle: creation,
// pending delivery, and exactly-once settlement.
package command

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// ErrForbidden is returned when a device does not belong to the
// requesting identity.
var ErrForbidden = errors.New("device does not belong to user")

// ErrNotFound mirrors the store sentinel for callers that only import
// this package.
var ErrNotFound = store.ErrNotFound

// Outcome is a terminal result reported by a device.
type Outcome struct {
	Success bool
	Result  map[string]any
	Detail  string
}

// Manager drives the pending → processing → {completed | failed}
// state machine. All shared state lives in the store; settlement
// atomicity is a per-row conditional update there, so unrelated
// commands settle concurrently without a global lock.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

// NewManager creates a lifecycle manager over the store.
func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  st,
		logger: logger.With("component", "commands"),
	}
}

// Submit validates and persists a new command in the pending state.
// Returns store.ErrNotFound if the user or device does not resolve,
// ErrForbidden if the device belongs to someone else, and
// *interpret.ValidationError if a required action parameter is
// missing. Nothing is persisted on any failure.
func (m *Manager) Submit(userID int64, deviceID *int64, action *interpret.Action) (*store.Command, error) {
	if _, err := m.store.FindUser(userID); err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", userID, err)
	}

	if deviceID != nil {
		device, err := m.store.FindDevice(*deviceID)
		if err != nil {
			return nil, fmt.Errorf("resolve device %d: %w", *deviceID, err)
		}
		if device.UserID != userID {
			return nil, ErrForbidden
		}
	}

	if err := interpret.ValidateParameters(action.Operation, action.Parameters); err != nil {
		return nil, err
	}

	cmd, err := m.store.CreateCommand(userID, deviceID, action.Category, action.Operation, action.Parameters)
	if err != nil {
		return nil, err
	}

	m.logger.Info("command submitted",
		"id", cmd.ID,
		"operation", cmd.Action,
		"category", cmd.CommandType,
		"origin", action.Origin,
	)
	return cmd, nil
}

// ListPending returns a device's pending commands in creation order.
// Delivery is at-least-once: a device may poll the same command
// repeatedly; only the first settlement counts.
func (m *Manager) ListPending(deviceID int64) ([]*store.Command, error) {
	return m.store.ListPendingCommands(deviceID)
}

// MarkProcessing records that a device claimed a command. Advisory —
// a device that executes atomically may settle straight from pending.
func (m *Manager) MarkProcessing(commandID string) error {
	return m.store.MarkCommandProcessing(commandID)
}

// Settle applies a terminal outcome. Idempotent: once a command is
// terminal, further settlements are no-ops, not errors; the first
// settlement to observe non-terminal state wins and reports
// applied=true. Returns store.ErrNotFound for unknown command IDs.
func (m *Manager) Settle(commandID string, outcome Outcome) (applied bool, err error) {
	applied, err = m.store.SettleCommand(commandID, outcome.Success, outcome.Result, outcome.Detail)
	if err != nil {
		return false, err
	}
	if !applied {
		m.logger.Debug("settlement ignored, command already terminal", "id", commandID)
		return false, nil
	}

	status := store.StatusCompleted
	if !outcome.Success {
		status = store.StatusFailed
	}
	m.logger.Info("command settled", "id", commandID, "status", status)
	return true, nil
}

// Get fetches a command by ID.
func (m *Manager) Get(commandID string) (*store.Command, error) {
	return m.store.FindCommand(commandID)
}

// History returns a user's recent commands, newest first.
func (m *Manager) History(userID int64, limit int) ([]*store.Command, error) {
	if limit <= 0 {
		limit = 20
	}
	return m.store.ListCommandsForUser(userID, limit)
}
