package tasks

import (
	"sync"

	"newsradar/internal/core"
	"newsradar/internal/logger"
)

// subscriberBuffer bounds each subscriber's queue. A subscriber that
// falls this far behind is dropped to protect the producer.
const subscriberBuffer = 64

type subscriber struct {
	ch chan core.TaskEvent
}

// Broadcaster fans task events out to per-task subscriber sets. Safe
// for concurrent use.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int64][]*subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int64][]*subscriber)}
}

// Subscribe registers a listener for one task's events. The returned
// cancel func must be called when the listener disconnects; the channel
// is closed either then or when the task's stream is closed.
func (b *Broadcaster) Subscribe(taskID int64) (<-chan core.TaskEvent, func()) {
	sub := &subscriber{ch: make(chan core.TaskEvent, subscriberBuffer)}

	b.mu.Lock()
	b.subs[taskID] = append(b.subs[taskID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(taskID, sub)
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of the task without
// blocking. Subscribers whose queue is full are dropped.
func (b *Broadcaster) Publish(taskID int64, e core.TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Snapshot before iterating: remove mutates b.subs[taskID] in place.
	subs := append([]*subscriber(nil), b.subs[taskID]...)
	for _, sub := range subs {
		select {
		case sub.ch <- e:
		default:
			logger.Warn("dropping slow task event subscriber", "task_id", taskID)
			b.remove(taskID, sub)
		}
	}
}

// CloseTask closes every subscriber channel of a finished task.
func (b *Broadcaster) CloseTask(taskID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[taskID] {
		close(sub.ch)
	}
	delete(b.subs, taskID)
}

// remove must be called with the lock held.
func (b *Broadcaster) remove(taskID int64, target *subscriber) {
	subs := b.subs[taskID]
	for i, sub := range subs {
		if sub == target {
			b.subs[taskID] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// SubscriberCount reports the current listener count for a task.
func (b *Broadcaster) SubscriberCount(taskID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}
