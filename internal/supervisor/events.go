package supervisor

import "sync"

// Feed is a typed fan-out: the supervisor's receive loop publishes worker
// events and each connection proxy subscribes to the kinds it cares
// about. Subscribers run on the publisher's goroutine and must not block.
type Feed[T any] struct {
	mu   sync.Mutex
	subs map[int]func(T)
	next int
}

// Subscribe registers fn and returns its unsubscribe func. Unsubscribing
// twice is harmless.
func (f *Feed[T]) Subscribe(fn func(T)) (unsub func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(T))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *Feed[T]) publish(v T) {
	f.mu.Lock()
	fns := make([]func(T), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
