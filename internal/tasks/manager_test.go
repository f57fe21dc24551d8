package tasks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/persistence"
)

func newTestManager() (*Manager, *persistence.MemoryDB) {
	db := persistence.NewMemoryDB()
	return NewManager(db, NewBroadcaster()), db
}

func TestCreateUnknownTaskType(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.Create(context.Background(), "nope", "t", nil); err == nil {
		t.Error("expected error for unregistered task type")
	}
}

func TestTaskLifecycleCompleted(t *testing.T) {
	m, db := newTestManager()
	m.Register("demo", ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		for i := 1; i <= 3; i++ {
			cb.Progress(i, 3, fmt.Sprintf("step %d", i), nil)
		}
		return map[string]any{"steps": 3}, nil
	}))

	task, err := m.Create(context.Background(), "demo", "demo task", map[string]any{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != core.TaskPending {
		t.Errorf("new task status = %q, want pending", task.Status)
	}

	if err := m.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final, _ := db.Tasks().Get(context.Background(), task.ID)
	if final.Status != core.TaskCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.CompletedAt == nil || final.StartedAt == nil {
		t.Error("terminal task must have started_at and completed_at")
	}
	if final.ProgressCurrent != 3 || final.ProgressTotal != 3 {
		t.Errorf("progress = %d/%d, want 3/3", final.ProgressCurrent, final.ProgressTotal)
	}

	events, _ := db.TaskEvents().ListByTask(context.Background(), task.ID)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	want := []string{core.EventCreated, core.EventStarted, core.EventProgress, core.EventProgress, core.EventProgress, core.EventCompleted}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestTaskFailureCapturesError(t *testing.T) {
	m, db := newTestManager()
	m.Register("boom", ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		return nil, fmt.Errorf("upstream exploded")
	}))

	task, _ := m.Create(context.Background(), "boom", "boom", nil)
	if err := m.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run should finalize failed tasks without error: %v", err)
	}

	final, _ := db.Tasks().Get(context.Background(), task.ID)
	if final.Status != core.TaskFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
	if final.ErrorMessage != "upstream exploded" {
		t.Errorf("error message = %q", final.ErrorMessage)
	}
	if final.CompletedAt == nil {
		t.Error("failed task must set completed_at")
	}
}

func TestExecutorPanicFailsTask(t *testing.T) {
	m, db := newTestManager()
	m.Register("panic", ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		panic("oops")
	}))

	task, _ := m.Create(context.Background(), "panic", "panic", nil)
	if err := m.Run(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}
	final, _ := db.Tasks().Get(context.Background(), task.ID)
	if final.Status != core.TaskFailed {
		t.Errorf("status = %q, want failed after panic", final.Status)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	m, db := newTestManager()
	m.Register("wobble", ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		cb.Progress(5, 10, "", nil)
		cb.Progress(3, 10, "", nil) // must be clamped
		return nil, nil
	}))

	task, _ := m.Create(context.Background(), "wobble", "wobble", nil)
	if err := m.Run(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	events, _ := db.TaskEvents().ListByTask(context.Background(), task.ID)
	last := -1
	for _, e := range events {
		if e.EventType != core.EventProgress {
			continue
		}
		current := int(e.Payload["current"].(int))
		if current < last {
			t.Errorf("progress decreased from %d to %d", last, current)
		}
		last = current
	}
	final, _ := db.Tasks().Get(context.Background(), task.ID)
	if final.ProgressCurrent != 5 {
		t.Errorf("final progress = %d, want 5", final.ProgressCurrent)
	}
}

func TestCancellationStopsProgress(t *testing.T) {
	m, db := newTestManager()

	firstStep := make(chan struct{})
	proceed := make(chan struct{})
	m.Register("slow", ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		cb.Progress(1, 10, "", nil)
		close(firstStep)
		<-proceed
		for i := 2; i <= 10; i++ {
			if cb.Cancelled() {
				return nil, core.ErrCancelled
			}
			cb.Progress(i, 10, "", nil)
		}
		return nil, nil
	}))

	task, _ := m.Create(context.Background(), "slow", "slow", nil)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), task.ID) }()

	<-firstStep
	if err := m.Cancel(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}
	close(proceed)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	final, _ := db.Tasks().Get(context.Background(), task.ID)
	if final.Status != core.TaskCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	if final.CompletedAt == nil {
		t.Error("cancelled task must set completed_at")
	}

	events, _ := db.TaskEvents().ListByTask(context.Background(), task.ID)
	progress := 0
	for _, e := range events {
		if e.EventType == core.EventProgress {
			progress++
		}
	}
	if progress != 1 {
		t.Errorf("got %d progress events, want 1 (none after the checkpoint)", progress)
	}
}

func TestCancelPendingTask(t *testing.T) {
	m, db := newTestManager()
	m.Register("demo", ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		return nil, nil
	}))

	task, _ := m.Create(context.Background(), "demo", "never run", nil)
	if err := m.Cancel(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}
	final, _ := db.Tasks().Get(context.Background(), task.ID)
	if final.Status != core.TaskCancelled {
		t.Errorf("status = %q, want cancelled", final.Status)
	}
	if err := m.Run(context.Background(), task.ID); err == nil {
		t.Error("running a cancelled task should fail")
	}
}

func TestStreamReplaysPersistedEvents(t *testing.T) {
	m, _ := newTestManager()
	m.Register("demo", ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		cb.Progress(1, 1, "", nil)
		return nil, nil
	}))

	task, _ := m.Create(context.Background(), "demo", "demo", nil)
	if err := m.Run(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	history, live, cancel, err := m.Stream(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if len(history) != 4 { // created, started, progress, completed
		t.Errorf("history length = %d, want 4", len(history))
	}
	select {
	case _, open := <-live:
		if open {
			t.Error("live channel for terminal task should be closed")
		}
	case <-time.After(time.Second):
		t.Error("live channel for terminal task did not close")
	}
}

func TestStreamTailsLiveEvents(t *testing.T) {
	m, _ := newTestManager()

	started := make(chan struct{})
	proceed := make(chan struct{})
	m.Register("live", ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		close(started)
		<-proceed
		cb.Event(core.EventInfo, map[string]any{"message": "mid-flight"})
		return nil, nil
	}))

	task, _ := m.Create(context.Background(), "live", "live", nil)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), task.ID) }()
	<-started

	history, live, cancel, err := m.Stream(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()
	if len(history) < 2 {
		t.Errorf("history length = %d, want created+started at minimum", len(history))
	}

	close(proceed)
	var got []string
	for e := range live {
		got = append(got, e.EventType)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	foundInfo, foundCompleted := false, false
	for _, typ := range got {
		if typ == core.EventInfo {
			foundInfo = true
		}
		if typ == core.EventCompleted {
			foundCompleted = true
		}
	}
	if !foundInfo || !foundCompleted {
		t.Errorf("live events = %v, want info and completed", got)
	}
}

func TestBroadcasterDropsSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(7)
	defer cancel()

	for i := 0; i < subscriberBuffer+1; i++ {
		b.Publish(7, core.TaskEvent{TaskID: 7, EventType: core.EventInfo})
	}
	if n := b.SubscriberCount(7); n != 0 {
		t.Errorf("subscriber count after overflow = %d, want 0", n)
	}

	// The channel holds the buffered events and is then closed.
	received := 0
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("received %d buffered events, want %d", received, subscriberBuffer)
	}
}

func TestPublishDeliversPastDroppedSubscribers(t *testing.T) {
	b := NewBroadcaster()
	first, cancelFirst := b.Subscribe(9)
	second, cancelSecond := b.Subscribe(9)
	third, cancelThird := b.Subscribe(9)
	defer cancelFirst()
	defer cancelSecond()
	defer cancelThird()

	for i := 0; i < subscriberBuffer; i++ {
		b.Publish(9, core.TaskEvent{TaskID: 9, EventType: core.EventInfo})
	}
	// Drain only the middle subscriber; the outer two stay full.
	for i := 0; i < subscriberBuffer; i++ {
		<-second
	}

	// Dropping the full outer subscribers must not skip or panic on the
	// healthy one in between.
	b.Publish(9, core.TaskEvent{TaskID: 9, EventType: core.EventProgress})

	if n := b.SubscriberCount(9); n != 1 {
		t.Errorf("subscriber count = %d, want 1", n)
	}
	if e := <-second; e.EventType != core.EventProgress {
		t.Errorf("healthy subscriber got %q, want progress", e.EventType)
	}

	// Dropped subscribers keep their buffered events, then close.
	for _, ch := range []<-chan core.TaskEvent{first, third} {
		received := 0
		for range ch {
			received++
		}
		if received != subscriberBuffer {
			t.Errorf("dropped subscriber received %d events, want %d", received, subscriberBuffer)
		}
	}
}
