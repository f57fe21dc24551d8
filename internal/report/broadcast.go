package report

import "sync"

const subscriberBuffer = 256

// Frame is one SSE-bound event for a report stream.
type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type subscriber struct {
	ch     chan Frame
	closed bool
}

// Broadcaster fans report frames out to SSE subscribers, keyed by report
// id. Slow subscribers are dropped once their buffer overflows so the
// generating agent never blocks on a consumer.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int64][]*subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int64][]*subscriber)}
}

// Subscribe returns a frame channel for one report and a cancel func.
// The channel closes on cancel, overflow, or CloseReport.
func (b *Broadcaster) Subscribe(reportID int64) (<-chan Frame, func()) {
	sub := &subscriber{ch: make(chan Frame, subscriberBuffer)}
	b.mu.Lock()
	b.subs[reportID] = append(b.subs[reportID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.drop(reportID, sub)
	}
	return sub.ch, cancel
}

// Publish delivers a frame to all subscribers without blocking.
func (b *Broadcaster) Publish(reportID int64, frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Snapshot before iterating: drop mutates b.subs[reportID] in place.
	subs := append([]*subscriber(nil), b.subs[reportID]...)
	for _, sub := range subs {
		select {
		case sub.ch <- frame:
		default:
			b.drop(reportID, sub)
		}
	}
}

// CloseReport closes every subscriber channel for a report.
func (b *Broadcaster) CloseReport(reportID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[reportID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(b.subs, reportID)
}

// SubscriberCount reports the live subscribers for a report.
func (b *Broadcaster) SubscriberCount(reportID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[reportID])
}

// drop removes a subscriber and closes its channel. Caller holds mu.
func (b *Broadcaster) drop(reportID int64, target *subscriber) {
	subs := b.subs[reportID]
	for i, sub := range subs {
		if sub == target {
			b.subs[reportID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if !target.closed {
		target.closed = true
		close(target.ch)
	}
	if len(b.subs[reportID]) == 0 {
		delete(b.subs, reportID)
	}
}
