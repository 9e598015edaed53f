package scheduler

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scheduler_test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedTask(t *testing.T, st *store.Store, kind, expr string, nextRun time.Time) *store.ScheduledTask {
	t.Helper()
	user, err := st.UpsertUser("1001", "raed", "Raed", "")
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	device, err := st.LinkDevice(user.ID, "android-1", "Pixel", "Pixel 8", "14")
	if err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	task, err := st.CreateScheduledTask(&store.ScheduledTask{
		DeviceID:     device.ID,
		Name:         "تقرير البطارية",
		CommandType:  "system",
		Action:       "battery_info",
		ScheduleKind: kind,
		ScheduleExpr: expr,
		IsActive:     true,
		NextRun:      &nextRun,
	})
	if err != nil {
		t.Fatalf("seeding task: %v", err)
	}
	return task
}

func TestTickFiresDueOnceTask(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	task := seedTask(t, st, store.ScheduleOnce, now.Format(time.RFC3339), now.Add(-time.Minute))

	var notified *store.Command
	s := New(st, time.Second, testLogger())
	s.SetNotifier(func(_ *store.ScheduledTask, cmd *store.Command) { notified = cmd })

	s.Tick(now)

	device, err := st.FindDevice(task.DeviceID)
	if err != nil {
		t.Fatalf("FindDevice: %v", err)
	}
	pending, err := st.ListPendingCommands(device.ID)
	if err != nil {
		t.Fatalf("ListPendingCommands: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Action != "battery_info" || pending[0].CommandType != "system" {
		t.Errorf("materialized command = %s/%s", pending[0].CommandType, pending[0].Action)
	}
	if notified == nil || notified.ID != pending[0].ID {
		t.Error("notifier not invoked with the materialized command")
	}

	// A once task deactivates after firing.
	got, err := st.FindScheduledTask(task.ID)
	if err != nil {
		t.Fatalf("FindScheduledTask: %v", err)
	}
	if got.IsActive {
		t.Error("once task still active after firing")
	}
	if got.LastRun == nil {
		t.Error("LastRun not recorded")
	}
}

func TestTickAdvancesIntervalTask(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	task := seedTask(t, st, store.ScheduleInterval, "30m", now.Add(-time.Second))

	s := New(st, time.Second, testLogger())
	s.Tick(now)

	got, err := st.FindScheduledTask(task.ID)
	if err != nil {
		t.Fatalf("FindScheduledTask: %v", err)
	}
	if !got.IsActive {
		t.Fatal("interval task deactivated")
	}
	if got.NextRun == nil {
		t.Fatal("NextRun cleared")
	}
	want := now.Add(30 * time.Minute)
	if diff := got.NextRun.Sub(want); diff < -time.Second || diff > time.Second {
		t.Errorf("NextRun = %v, want ~%v", got.NextRun, want)
	}

	// Firing is edge-triggered until the next due time.
	s.Tick(now.Add(time.Minute))
	device, _ := st.FindDevice(task.DeviceID)
	pending, _ := st.ListPendingCommands(device.ID)
	if len(pending) != 1 {
		t.Errorf("pending = %d after second tick, want 1", len(pending))
	}
}

func TestTickSkipsFutureTasks(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	task := seedTask(t, st, store.ScheduleInterval, "1h", now.Add(time.Hour))

	s := New(st, time.Second, testLogger())
	s.Tick(now)

	device, _ := st.FindDevice(task.DeviceID)
	pending, _ := st.ListPendingCommands(device.ID)
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestNextRunCron(t *testing.T) {
	from := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)
	next, err := NextRun(store.ScheduleCron, "0 8 * * *", from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextRunInvalid(t *testing.T) {
	from := time.Now()
	if _, err := NextRun(store.ScheduleInterval, "soon", from); err == nil {
		t.Error("invalid interval accepted")
	}
	if _, err := NextRun(store.ScheduleInterval, "-5m", from); err == nil {
		t.Error("negative interval accepted")
	}
	if _, err := NextRun(store.ScheduleCron, "not a cron", from); err == nil {
		t.Error("invalid cron accepted")
	}
	if _, err := NextRun("weekly", "x", from); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestNextRunOnceDeactivates(t *testing.T) {
	next, err := NextRun(store.ScheduleOnce, "ignored", time.Now())
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if next != nil {
		t.Errorf("next = %v, want nil", next)
	}
}

func TestParseOnceTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)

	got, err := ParseOnceTime("45m", now)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if !got.Equal(now.Add(45 * time.Minute)) {
		t.Errorf("duration target = %v", got)
	}

	got, err = ParseOnceTime("15:30", now)
	if err != nil {
		t.Fatalf("clock time: %v", err)
	}
	if got.Hour() != 15 || got.Minute() != 30 || got.Day() != now.Day() {
		t.Errorf("clock target = %v", got)
	}

	// A time already past today rolls to tomorrow.
	got, err = ParseOnceTime("09:00", now)
	if err != nil {
		t.Fatalf("past clock time: %v", err)
	}
	if got.Day() != now.Add(24*time.Hour).Day() {
		t.Errorf("past clock target = %v, want tomorrow", got)
	}

	if _, err := ParseOnceTime("next tuesday", now); err == nil {
		t.Error("unparseable time accepted")
	}
}

func TestFirstRunIntervalIsOnePeriodOut(t *testing.T) {
	now := time.Now()
	next, err := FirstRun(store.ScheduleInterval, "2h", now)
	if err != nil {
		t.Fatalf("FirstRun: %v", err)
	}
	want := now.Add(2 * time.Hour)
	if diff := next.Sub(want); diff < -time.Second || diff > time.Second {
		t.Errorf("next = %v, want ~%v", next, want)
	}
}
