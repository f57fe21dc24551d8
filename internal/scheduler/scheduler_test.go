package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/persistence"
	"newsradar/internal/tasks"
)

// countingExecutor records how many times each schedule's task ran.
type countingExecutor struct {
	runs int
	fail bool
}

func (c *countingExecutor) Execute(ctx context.Context, task *core.Task, cb tasks.Callbacks) (map[string]any, error) {
	c.runs++
	if c.fail {
		return nil, fmt.Errorf("executor failure")
	}
	return map[string]any{"ok": true}, nil
}

func fixture(t *testing.T) (*Scheduler, *persistence.MemoryDB, *countingExecutor) {
	t.Helper()
	db := persistence.NewMemoryDB()
	m := tasks.NewManager(db, nil)
	exec := &countingExecutor{}
	m.Register(tasks.TypeCrawlPending, exec)
	return New(db, m, time.Minute), db, exec
}

func seedSchedule(t *testing.T, db *persistence.MemoryDB, status string, nextRunIn time.Duration, intervalMin int) *core.Schedule {
	t.Helper()
	next := time.Now().UTC().Add(nextRunIn)
	s := &core.Schedule{
		Name:         "crawl everything",
		ScheduleType: core.ScheduleArticleCrawl,
		Status:       status,
		IntervalMin:  intervalMin,
		NextRunAt:    &next,
	}
	if err := db.Schedules().Create(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTickDispatchesDueSchedule(t *testing.T) {
	sched, db, exec := fixture(t)
	s := seedSchedule(t, db, core.ScheduleActive, -time.Minute, 60)

	before := time.Now().UTC()
	if err := sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if exec.runs != 1 {
		t.Fatalf("executor ran %d times, want 1", exec.runs)
	}

	updated, _ := db.Schedules().Get(context.Background(), s.ID)
	if updated.ExecutionCount != 1 {
		t.Errorf("execution_count = %d, want 1", updated.ExecutionCount)
	}
	if updated.LastStatus != core.TaskCompleted {
		t.Errorf("last_status = %q, want completed", updated.LastStatus)
	}
	if updated.LastRunAt == nil {
		t.Fatal("last_run_at not set")
	}

	wantNext := before.Add(60 * time.Minute)
	if updated.NextRunAt == nil {
		t.Fatal("next_run_at not set")
	}
	if diff := updated.NextRunAt.Sub(wantNext); diff < -time.Minute || diff > time.Minute {
		t.Errorf("next_run_at = %v, want about %v", updated.NextRunAt, wantNext)
	}

	// A second tick right away must not re-dispatch.
	if err := sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if exec.runs != 1 {
		t.Errorf("executor ran %d times after second tick, want still 1", exec.runs)
	}
}

func TestTickSkipsInactiveAndFutureSchedules(t *testing.T) {
	sched, db, exec := fixture(t)
	seedSchedule(t, db, core.SchedulePaused, -time.Minute, 60)
	seedSchedule(t, db, core.ScheduleDisabled, -time.Minute, 60)
	seedSchedule(t, db, core.ScheduleActive, time.Hour, 60)

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if exec.runs != 0 {
		t.Errorf("executor ran %d times, want 0", exec.runs)
	}
}

func TestTickRecordsExecutorFailureAndContinues(t *testing.T) {
	sched, db, exec := fixture(t)
	exec.fail = true
	a := seedSchedule(t, db, core.ScheduleActive, -2*time.Minute, 60)
	b := seedSchedule(t, db, core.ScheduleActive, -time.Minute, 60)

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if exec.runs != 2 {
		t.Fatalf("executor ran %d times, want both schedules dispatched", exec.runs)
	}
	for _, id := range []int64{a.ID, b.ID} {
		updated, _ := db.Schedules().Get(context.Background(), id)
		if updated.LastStatus != core.TaskFailed {
			t.Errorf("schedule %d last_status = %q, want failed", id, updated.LastStatus)
		}
		if updated.LastError == "" {
			t.Errorf("schedule %d last_error empty", id)
		}
	}
}

func TestMaxExecutionsDisablesSchedule(t *testing.T) {
	sched, db, _ := fixture(t)
	s := seedSchedule(t, db, core.ScheduleActive, -time.Minute, 60)
	max := 1
	s.MaxExecutions = &max
	if err := db.Schedules().Update(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	updated, _ := db.Schedules().Get(context.Background(), s.ID)
	if updated.Status != core.ScheduleDisabled {
		t.Errorf("status = %q, want disabled after max executions", updated.Status)
	}
}

func TestStatusReflectsTicks(t *testing.T) {
	sched, db, _ := fixture(t)
	seedSchedule(t, db, core.ScheduleActive, -time.Minute, 60)

	if got := sched.Status(); got.Running {
		t.Error("scheduler should not report running before Start")
	}
	if err := sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := sched.Status()
	if got.LastTickAt == nil || got.LastTickRuns != 1 || got.TotalRuns != 1 {
		t.Errorf("status = %+v", got)
	}
}

func TestStartStop(t *testing.T) {
	sched, _, _ := fixture(t)
	sched.Start(context.Background())
	if !sched.Status().Running {
		t.Error("scheduler should report running after Start")
	}
	sched.Stop()
	if sched.Status().Running {
		t.Error("scheduler should report stopped after Stop")
	}
}
