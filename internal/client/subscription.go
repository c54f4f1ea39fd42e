package client

import "sync"

// Subscription is returned by the On* methods. Unsubscribe stops further
// callbacks; calling it more than once is harmless.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the callback.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// listeners is an ordered list of callbacks for one event type.
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	list []listener[T]
}

func (l *listeners[T]) add(fn func(T)) *Subscription {
	l.mu.Lock()
	id := l.next
	l.next++
	l.list = append(l.list, listener[T]{id: id, fn: fn})
	l.mu.Unlock()

	return &Subscription{cancel: func() { l.remove(id) }}
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.list {
		if entry.id == id {
			l.list = append(l.list[:i:i], l.list[i+1:]...)
			return
		}
	}
}

// emit calls every callback in subscription order. Callbacks may subscribe or
// unsubscribe; changes apply from the next emit.
func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	snapshot := l.list
	l.mu.Unlock()

	for _, entry := range snapshot {
		entry.fn(v)
	}
}
