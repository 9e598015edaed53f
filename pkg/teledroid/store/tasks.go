package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateScheduledTask persists a new task template.
func (s *Store) CreateScheduledTask(t *ScheduledTask) (*ScheduledTask, error) {
	if t.Parameters == nil {
		t.Parameters = map[string]string{}
	}
	paramsJSON, err := json.Marshal(t.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO scheduled_tasks
			(device_id, name, command_type, action, parameters,
			 schedule_kind, schedule_expr, is_active, last_run, next_run,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.DeviceID, t.Name, t.CommandType, t.Action, string(paramsJSON),
		t.ScheduleKind, t.ScheduleExpr, boolToInt(t.IsActive),
		nullableTime(t.LastRun), nullableTime(t.NextRun),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduled task %q: %w", t.Name, err)
	}

	t.ID, _ = res.LastInsertId()
	t.CreatedAt = now
	t.UpdatedAt = now
	return t, nil
}

// FindScheduledTask looks a task up by ID.
func (s *Store) FindScheduledTask(id int64) (*ScheduledTask, error) {
	row := s.db.QueryRow(taskSelect+` WHERE id = ?`, id)
	return scanTask(row)
}

// ListScheduledTasks returns all tasks for a device, oldest first.
func (s *Store) ListScheduledTasks(deviceID int64) ([]*ScheduledTask, error) {
	rows, err := s.db.Query(taskSelect+` WHERE device_id = ? ORDER BY created_at, id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListDueTasks returns active tasks whose next-fire time has elapsed.
// Cron-kind tasks are included; the scheduler decides how each kind
// fires.
func (s *Store) ListDueTasks(now time.Time) ([]*ScheduledTask, error) {
	rows, err := s.db.Query(taskSelect+`
		WHERE is_active = 1 AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run, id`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// MarkTaskFired records a firing: sets last-run and the recomputed
// next-run. A nil nextRun deactivates the task (one-shot done).
func (s *Store) MarkTaskFired(id int64, firedAt time.Time, nextRun *time.Time) error {
	active := 1
	if nextRun == nil {
		active = 0
	}
	res, err := s.db.Exec(`
		UPDATE scheduled_tasks
		SET last_run = ?, next_run = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		firedAt.UTC().Format(time.RFC3339), nullableTime(nextRun), active,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("mark task fired %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteScheduledTask removes a task by ID.
func (s *Store) DeleteScheduledTask(id int64) error {
	res, err := s.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const taskSelect = `
	SELECT id, device_id, name, command_type, action, parameters,
	       schedule_kind, schedule_expr, is_active, last_run, next_run,
	       created_at, updated_at
	FROM scheduled_tasks`

func collectTasks(rows *sql.Rows) ([]*ScheduledTask, error) {
	var tasks []*ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row scanner) (*ScheduledTask, error) {
	var (
		t                    ScheduledTask
		params               string
		isActive             int
		lastRun, nextRun     sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.DeviceID, &t.Name, &t.CommandType, &t.Action,
		&params, &t.ScheduleKind, &t.ScheduleExpr, &isActive,
		&lastRun, &nextRun, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled task: %w", err)
	}

	if err := json.Unmarshal([]byte(params), &t.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters for task %d: %w", t.ID, err)
	}
	t.IsActive = isActive != 0
	if lastRun.Valid {
		ts, _ := time.Parse(time.RFC3339, lastRun.String)
		t.LastRun = &ts
	}
	if nextRun.Valid {
		ts, _ := time.Parse(time.RFC3339, nextRun.String)
		t.NextRun = &ts
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
