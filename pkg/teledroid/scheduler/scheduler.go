// Package scheduler materializes scheduled tasks into device commands.
// Tasks are persisted in SQLite and evaluated on a fixed tick; cron
// expressions are parsed with robfig/cron so schedules survive restarts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// cronParser accepts standard 5-field expressions plus descriptors
// like @daily and @every 2h.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NotifyFunc is called after a task fires and its command is enqueued,
// letting the bot tell the owner what just happened.
type NotifyFunc func(task *store.ScheduledTask, cmd *store.Command)

// Pruner removes expired auth material; wired to auth.TokenIssuer.
type Pruner interface {
	PruneExpired() error
}

// Scheduler drives due-task evaluation on a fixed interval.
type Scheduler struct {
	store  *store.Store
	logger *slog.Logger
	tick   time.Duration

	// runningTasks guards against a tick firing a task whose previous
	// run is still being materialized.
	runningTasks map[int64]bool

	notify NotifyFunc
	pruner Pruner

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler reading tasks from st every tick.
func New(st *store.Store, tick time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{
		store:        st,
		logger:       logger.With("component", "scheduler"),
		tick:         tick,
		runningTasks: make(map[int64]bool),
	}
}

// SetNotifier registers a callback invoked after each fired task.
func (s *Scheduler) SetNotifier(fn NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// SetPruner registers the expired-token pruner run alongside the ticks.
func (s *Scheduler) SetPruner(p Pruner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruner = p
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started", "tick", s.tick)
	return nil
}

// Stop shuts the tick loop down and waits for in-flight work.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Prune expired auth tokens once an hour.
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(time.Now())
		case <-prune.C:
			s.runPrune()
		}
	}
}

// Tick fires every active task whose next run is at or before now.
// Exported for tests and for a manual kick after task creation.
func (s *Scheduler) Tick(now time.Time) {
	tasks, err := s.store.ListDueTasks(now)
	if err != nil {
		s.logger.Error("listing due tasks failed", "error", err)
		return
	}

	for _, task := range tasks {
		s.fire(task, now)
	}
}

// fire materializes one due task into a pending command and advances
// or deactivates its schedule.
func (s *Scheduler) fire(task *store.ScheduledTask, now time.Time) {
	s.mu.Lock()
	if s.runningTasks[task.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping task (already firing)", "task_id", task.ID)
		return
	}
	s.runningTasks[task.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.runningTasks, task.ID)
		s.mu.Unlock()

		// One bad task must not take the tick loop down.
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task_id", task.ID, "panic", r)
		}
	}()

	device, err := s.store.FindDevice(task.DeviceID)
	if err != nil {
		s.logger.Warn("deactivating task with missing device",
			"task_id", task.ID, "device_row", task.DeviceID, "error", err)
		if err := s.store.MarkTaskFired(task.ID, now, nil); err != nil {
			s.logger.Error("deactivating task failed", "task_id", task.ID, "error", err)
		}
		return
	}

	cmd, err := s.store.CreateCommand(device.UserID, &task.DeviceID, task.CommandType, task.Action, task.Parameters)
	if err != nil {
		s.logger.Error("materializing task command failed", "task_id", task.ID, "error", err)
		return
	}

	next, err := NextRun(task.ScheduleKind, task.ScheduleExpr, now)
	if err != nil {
		// The schedule parsed at creation time; treat corruption as one-shot.
		s.logger.Warn("schedule no longer parses, deactivating",
			"task_id", task.ID, "expr", task.ScheduleExpr, "error", err)
		next = nil
	}
	if err := s.store.MarkTaskFired(task.ID, now, next); err != nil {
		s.logger.Error("advancing task schedule failed", "task_id", task.ID, "error", err)
		return
	}

	s.logger.Info("scheduled task fired",
		"task_id", task.ID,
		"name", task.Name,
		"command_id", cmd.ID,
		"action", task.Action,
	)

	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify != nil {
		notify(task, cmd)
	}
}

func (s *Scheduler) runPrune() {
	s.mu.Lock()
	pruner := s.pruner
	s.mu.Unlock()
	if pruner == nil {
		return
	}
	if err := pruner.PruneExpired(); err != nil {
		s.logger.Error("pruning expired tokens failed", "error", err)
	}
}

// NextRun computes the run after a fire at `from`, or nil when the
// task should deactivate (once tasks, or intervals that fail to parse
// after previously parsing).
func NextRun(kind, expr string, from time.Time) (*time.Time, error) {
	switch kind {
	case store.ScheduleOnce:
		return nil, nil
	case store.ScheduleInterval:
		d, err := time.ParseDuration(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", expr, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval %q must be positive", expr)
		}
		next := from.Add(d)
		return &next, nil
	case store.ScheduleCron:
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		next := sched.Next(from)
		return &next, nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", kind)
	}
}

// FirstRun computes the initial next_run for a newly created task.
// Once tasks run at the parsed time; interval and cron tasks run one
// period after creation.
func FirstRun(kind, expr string, now time.Time) (*time.Time, error) {
	if kind == store.ScheduleOnce {
		t, err := ParseOnceTime(expr, now)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	return NextRun(kind, expr, now)
}

// ParseOnceTime parses the target time of a one-shot task. Accepts a
// relative duration ("5m", "1h30m"), RFC3339, "2006-01-02 15:04", and
// "15:04" (today, or tomorrow when already past).
func ParseOnceTime(expr string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(expr); err == nil && d > 0 {
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04", expr); err == nil {
		return t, nil
	}
	if t, err := time.Parse("15:04", expr); err == nil {
		target := time.Date(now.Year(), now.Month(), now.Day(),
			t.Hour(), t.Minute(), 0, 0, now.Location())
		if target.Before(now) {
			target = target.Add(24 * time.Hour)
		}
		return target, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %s", expr)
}
