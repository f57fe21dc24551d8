// Package scheduler dispatches due schedules to the task fabric on a
// fixed check interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"
	"newsradar/internal/tasks"
)

// DefaultCheckInterval is how often due schedules are looked up.
const DefaultCheckInterval = time.Minute

// taskTypeFor maps a schedule type onto the executor that serves it.
var taskTypeFor = map[string]string{
	core.ScheduleSitemapCrawl:  tasks.TypeSitemapSync,
	core.ScheduleArticleCrawl:  tasks.TypeCrawlPending,
	core.ScheduleKeywordSearch: tasks.TypeScheduleKeywordSearch,
}

// Status is a snapshot of the scheduler loop.
type Status struct {
	Running       bool       `json:"running"`
	CheckInterval string     `json:"check_interval"`
	LastTickAt    *time.Time `json:"last_tick_at,omitempty"`
	LastTickRuns  int        `json:"last_tick_runs"`
	TotalRuns     int64      `json:"total_runs"`
}

// Scheduler owns the periodic dispatch loop. Dispatch within a tick is
// serial; a schedule never overlaps itself.
type Scheduler struct {
	db       persistence.Database
	manager  *tasks.Manager
	interval time.Duration

	mu           sync.Mutex
	tickMu       sync.Mutex
	running      bool
	stop         chan struct{}
	stopped      chan struct{}
	lastTickAt   *time.Time
	lastTickRuns int
	totalRuns    int64
}

func New(db persistence.Database, manager *tasks.Manager, checkInterval time.Duration) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Scheduler{db: db, manager: manager, interval: checkInterval}
}

// Start launches the loop. Idempotent while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	logger.Info("scheduler started", "check_interval", s.interval.String())
}

// Stop halts the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				logger.Error("scheduler tick failed", err)
			}
		}
	}
}

// Tick runs one dispatch pass: every active schedule due at entry is
// executed, serially, in next_run_at order. Also used by the trigger
// endpoint to force an immediate pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	// Ticks never overlap.
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := time.Now().UTC()
	due, err := s.db.Schedules().ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due schedules: %w", err)
	}

	runs := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.dispatch(ctx, &due[i])
		runs++
	}

	s.mu.Lock()
	s.lastTickAt = &now
	s.lastTickRuns = runs
	s.totalRuns += int64(runs)
	s.mu.Unlock()
	return nil
}

// Execute runs one schedule immediately, regardless of next_run_at. The
// schedule must exist and be active. Used by the manual execute endpoint.
func (s *Scheduler) Execute(ctx context.Context, scheduleID int64) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	schedule, err := s.db.Schedules().Get(ctx, scheduleID)
	if err != nil {
		return err
	}
	if schedule.Status != core.ScheduleActive {
		return core.ValidationErrorf("schedule %d is not active", scheduleID)
	}

	s.dispatch(ctx, schedule)

	s.mu.Lock()
	s.totalRuns++
	s.mu.Unlock()

	if schedule.LastStatus != core.TaskCompleted {
		return fmt.Errorf("schedule run finished %s: %s", schedule.LastStatus, schedule.LastError)
	}
	return nil
}

// dispatch runs one schedule synchronously and records the outcome on
// the schedule row. Execution failures are recorded, never propagated:
// the next tick proceeds regardless.
func (s *Scheduler) dispatch(ctx context.Context, schedule *core.Schedule) {
	taskType, ok := taskTypeFor[schedule.ScheduleType]
	if !ok {
		s.record(ctx, schedule, "failed", fmt.Sprintf("unknown schedule type %q", schedule.ScheduleType))
		return
	}

	title := fmt.Sprintf("schedule_%s: %s", schedule.ScheduleType, schedule.Name)
	task, err := s.manager.Create(ctx, taskType, title, schedule.Config)
	if err != nil {
		s.record(ctx, schedule, "failed", err.Error())
		return
	}

	if err := s.manager.Run(ctx, task.ID); err != nil {
		s.record(ctx, schedule, "failed", err.Error())
		return
	}

	final, err := s.db.Tasks().Get(ctx, task.ID)
	if err != nil {
		s.record(ctx, schedule, "failed", err.Error())
		return
	}
	s.record(ctx, schedule, final.Status, final.ErrorMessage)
}

// record updates the schedule's bookkeeping after a run and computes the
// next slot. Hitting max_executions disables the schedule.
func (s *Scheduler) record(ctx context.Context, schedule *core.Schedule, lastStatus, lastError string) {
	now := time.Now().UTC()
	next := now.Add(time.Duration(schedule.IntervalMin) * time.Minute)

	schedule.ExecutionCount++
	schedule.LastRunAt = &now
	schedule.LastStatus = lastStatus
	schedule.LastError = lastError
	schedule.NextRunAt = &next

	if schedule.MaxExecutions != nil && schedule.ExecutionCount >= *schedule.MaxExecutions {
		schedule.Status = core.ScheduleDisabled
	}

	if err := s.db.Schedules().Update(ctx, schedule); err != nil {
		logger.Error("failed to update schedule after run", err, "schedule_id", schedule.ID)
	}
}

// Status reports the loop state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:       s.running,
		CheckInterval: s.interval.String(),
		LastTickAt:    s.lastTickAt,
		LastTickRuns:  s.lastTickRuns,
		TotalRuns:     s.totalRuns,
	}
}
