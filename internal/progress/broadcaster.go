package progress

import (
	"log"
	"sync"
)

// =============================================================================
// BROADCASTER
// =============================================================================
// Fan-out of task events to any number of subscribers (SSE streams, tests,
// the headless runner). Publishing never blocks the extraction pipeline: a
// subscriber that stops draining its channel loses events instead of stalling
// the task, and one dead subscriber never affects the others.

// SubscriberBuffer is the per-subscriber channel depth. Row events arrive in
// bursts; the buffer absorbs them while an SSE write is in flight.
const SubscriberBuffer = 256

type subscriber struct {
	id int64
	ch chan Event
}

// Broadcaster routes events to subscribers keyed by task id.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string][]*subscriber
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string][]*subscriber)}
}

// Subscribe registers a listener for one task's events. The returned cancel
// function detaches the subscriber and closes its channel; it is safe to call
// more than once.
func (b *Broadcaster) Subscribe(taskID string) (<-chan Event, func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan Event, SubscriberBuffer)}
	b.subs[taskID] = append(b.subs[taskID], sub)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.remove(taskID, sub.id) })
	}
	return sub.ch, cancel
}

// remove detaches one subscriber and drops the task key when it was the last.
func (b *Broadcaster) remove(taskID string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[taskID]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		b.subs[taskID] = append(subs[:i], subs[i+1:]...)
		close(sub.ch)
		break
	}
	if len(b.subs[taskID]) == 0 {
		delete(b.subs, taskID)
	}
}

// Publish delivers the event to every subscriber of its task. Delivery is
// best effort per subscriber: a full channel drops the event for that
// subscriber only.
func (b *Broadcaster) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[evt.TaskID] {
		select {
		case sub.ch <- evt:
		default:
			// Subscriber is not draining; skip it rather than stall the task.
			log.Printf("[Progress] dropped %s event for task %s (slow subscriber)", evt.Event, evt.TaskID)
		}
	}
}

// SubscriberCount reports the live subscribers for a task.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}
