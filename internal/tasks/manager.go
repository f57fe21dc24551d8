// Package tasks implements the task fabric: durable task rows, an
// executor registry, cooperative cancellation and a per-task event
// broadcast for SSE subscribers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"
)

// Callbacks are the executor's mandatory cooperation points.
type Callbacks struct {
	// Progress persists the task's progress row and appends a progress
	// event. Intermediate may carry a partial result snapshot.
	Progress func(current, total int, message string, intermediate map[string]any)

	// Event appends a typed event to the task's log.
	Event func(eventType string, data map[string]any)

	// Cancelled reports whether a cancel request has arrived. Executors
	// must sample it between logical steps.
	Cancelled func() bool
}

// Executor runs one task type.
type Executor interface {
	Execute(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
	return f(ctx, task, cb)
}

type taskState struct {
	cancelled bool
	cancel    context.CancelFunc
}

// Manager owns task rows and dispatch.
type Manager struct {
	db  persistence.Database
	hub *Broadcaster

	mu       sync.Mutex
	registry map[string]Executor
	running  map[int64]*taskState
}

func NewManager(db persistence.Database, hub *Broadcaster) *Manager {
	if hub == nil {
		hub = NewBroadcaster()
	}
	return &Manager{
		db:       db,
		hub:      hub,
		registry: make(map[string]Executor),
		running:  make(map[int64]*taskState),
	}
}

// Register binds an executor to a task type. Later registrations replace
// earlier ones.
func (m *Manager) Register(taskType string, ex Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[taskType] = ex
}

// Hub exposes the broadcast for SSE handlers.
func (m *Manager) Hub() *Broadcaster { return m.hub }

// Create inserts a pending task row and its created event.
func (m *Manager) Create(ctx context.Context, taskType, title string, params map[string]any) (*core.Task, error) {
	m.mu.Lock()
	_, registered := m.registry[taskType]
	m.mu.Unlock()
	if !registered {
		return nil, core.ValidationErrorf("unknown task type %q", taskType)
	}

	task := &core.Task{
		TaskType: taskType,
		Status:   core.TaskPending,
		Title:    title,
		Params:   params,
	}
	if err := m.db.Tasks().Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	m.appendEvent(ctx, task.ID, core.EventCreated, map[string]any{"task_type": taskType, "title": title})
	return task, nil
}

// Run dispatches a pending task to its executor and blocks until it
// reaches a terminal state. Callers wanting asynchrony run it in a
// goroutine.
func (m *Manager) Run(ctx context.Context, taskID int64) error {
	task, err := m.db.Tasks().Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != core.TaskPending {
		return core.ValidationErrorf("task %d is %s, not pending", taskID, task.Status)
	}

	m.mu.Lock()
	executor, ok := m.registry[task.TaskType]
	if !ok {
		m.mu.Unlock()
		return core.ValidationErrorf("no executor for task type %q", task.TaskType)
	}
	runCtx, cancel := context.WithCancel(ctx)
	state := &taskState{cancel: cancel}
	m.running[taskID] = state
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.running, taskID)
		m.mu.Unlock()
		m.hub.CloseTask(taskID)
	}()

	now := time.Now().UTC()
	task.Status = core.TaskRunning
	task.StartedAt = &now
	if err := m.db.Tasks().Update(ctx, task); err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	m.appendEvent(ctx, taskID, core.EventStarted, nil)

	cb := m.callbacks(ctx, task, state)
	result, execErr := m.execute(runCtx, executor, task, cb)

	switch {
	case execErr == nil && !m.isCancelled(taskID, state):
		return m.finish(ctx, task, core.TaskCompleted, result, "")
	case m.isCancelled(taskID, state) || errors.Is(execErr, core.ErrCancelled):
		return m.finish(ctx, task, core.TaskCancelled, result, "")
	default:
		return m.finish(ctx, task, core.TaskFailed, result, execErr.Error())
	}
}

// execute isolates executor panics so a buggy executor fails its task
// instead of the process.
func (m *Manager) execute(ctx context.Context, ex Executor, task *core.Task, cb Callbacks) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task executor panicked", fmt.Errorf("%v", r), "task_id", task.ID, "task_type", task.TaskType)
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return ex.Execute(ctx, task, cb)
}

// Cancel requests cancellation. A pending task is cancelled immediately;
// a running one is flagged and its context cancelled, then the executor
// observes the flag at its next checkpoint.
func (m *Manager) Cancel(ctx context.Context, taskID int64) error {
	m.mu.Lock()
	state, isRunning := m.running[taskID]
	if isRunning {
		state.cancelled = true
		state.cancel()
	}
	m.mu.Unlock()
	if isRunning {
		m.appendEvent(ctx, taskID, core.EventInfo, map[string]any{"message": "cancellation requested"})
		return nil
	}

	task, err := m.db.Tasks().Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != core.TaskPending {
		return core.ValidationErrorf("task %d is %s and cannot be cancelled", taskID, task.Status)
	}
	return m.finish(ctx, task, core.TaskCancelled, nil, "")
}

// Stream returns the persisted event history plus a live channel; the
// caller replays the history first and then tails the channel. For
// terminal tasks the channel is already closed.
func (m *Manager) Stream(ctx context.Context, taskID int64) ([]core.TaskEvent, <-chan core.TaskEvent, func(), error) {
	task, err := m.db.Tasks().Get(ctx, taskID)
	if err != nil {
		return nil, nil, nil, err
	}

	ch, cancel := m.hub.Subscribe(taskID)
	history, err := m.db.TaskEvents().ListByTask(ctx, taskID)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}

	if isTerminal(task.Status) {
		cancel()
		closed := make(chan core.TaskEvent)
		close(closed)
		return history, closed, func() {}, nil
	}
	return history, ch, cancel, nil
}

func (m *Manager) callbacks(ctx context.Context, task *core.Task, state *taskState) Callbacks {
	taskID := task.ID
	return Callbacks{
		Progress: func(current, total int, message string, intermediate map[string]any) {
			// Progress never goes backwards.
			if current < task.ProgressCurrent {
				current = task.ProgressCurrent
			}
			task.ProgressCurrent, task.ProgressTotal = current, total
			if err := m.db.Tasks().UpdateProgress(ctx, taskID, current, total); err != nil {
				logger.Error("failed to persist task progress", err, "task_id", taskID)
			}
			payload := map[string]any{"current": current, "total": total}
			if message != "" {
				payload["message"] = message
			}
			if intermediate != nil {
				payload["intermediate_result"] = intermediate
			}
			m.appendEvent(ctx, taskID, core.EventProgress, payload)
		},
		Event: func(eventType string, data map[string]any) {
			m.appendEvent(ctx, taskID, eventType, data)
		},
		Cancelled: func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return state.cancelled
		},
	}
}

func (m *Manager) isCancelled(taskID int64, state *taskState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return state.cancelled
}

// finish moves the task to a terminal state and emits the terminal event.
func (m *Manager) finish(ctx context.Context, task *core.Task, status string, result map[string]any, errMsg string) error {
	now := time.Now().UTC()
	task.Status = status
	task.CompletedAt = &now
	task.Result = result
	task.ErrorMessage = errMsg
	if err := m.db.Tasks().Update(ctx, task); err != nil {
		return fmt.Errorf("failed to finalize task %d: %w", task.ID, err)
	}

	var payload map[string]any
	switch status {
	case core.TaskCompleted:
		if result != nil {
			payload = map[string]any{"result": result}
		}
		m.appendEvent(ctx, task.ID, core.EventCompleted, payload)
	case core.TaskFailed:
		m.appendEvent(ctx, task.ID, core.EventFailed, map[string]any{"error": errMsg})
	case core.TaskCancelled:
		m.appendEvent(ctx, task.ID, core.EventCancelled, nil)
	}
	return nil
}

// appendEvent persists the event, then broadcasts it, preserving order
// for mid-flight joiners.
func (m *Manager) appendEvent(ctx context.Context, taskID int64, eventType string, payload map[string]any) {
	event := &core.TaskEvent{TaskID: taskID, EventType: eventType, Payload: payload}
	if err := m.db.TaskEvents().Append(ctx, event); err != nil {
		logger.Error("failed to append task event", err, "task_id", taskID, "event_type", eventType)
	}
	m.hub.Publish(taskID, *event)
}

func isTerminal(status string) bool {
	switch status {
	case core.TaskCompleted, core.TaskFailed, core.TaskCancelled:
		return true
	}
	return false
}
