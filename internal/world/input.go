package world

import (
	"sort"
	"sync"

	"tileworld/internal/ipc"
)

// InputQueue buffers player input between ticks. Events accumulate in
// arrival order; the tick drains the whole batch at once and applies it
// in Timestamp order, so arrival jitter never changes outcomes.
type InputQueue struct {
	mu     sync.Mutex
	events []ipc.InputEvent
}

// NewInputQueue returns an empty queue.
func NewInputQueue() *InputQueue {
	return &InputQueue{}
}

// Push appends one event. Safe for concurrent use.
func (q *InputQueue) Push(ev ipc.InputEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain removes and returns every queued event, stable-sorted by ascending
// Timestamp. Events with equal timestamps keep their arrival order.
func (q *InputQueue) Drain() []ipc.InputEvent {
	q.mu.Lock()
	batch := q.events
	q.events = nil
	q.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp < batch[j].Timestamp
	})
	return batch
}

// Len reports how many events are waiting.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
