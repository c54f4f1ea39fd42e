package client

import (
	"slices"
	"sync"
)

// TypingTracker keeps the set of users currently typing.
type TypingTracker struct {
	mu     sync.Mutex
	typing map[string]struct{}
}

// NewTypingTracker creates an empty tracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{typing: make(map[string]struct{})}
}

// Observe applies a typing signal. It reports whether the set changed.
func (t *TypingTracker) Observe(ev TypingEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, present := t.typing[ev.UserID]
	switch {
	case ev.IsTyping && !present:
		t.typing[ev.UserID] = struct{}{}
		return true
	case !ev.IsTyping && present:
		delete(t.typing, ev.UserID)
		return true
	default:
		return false
	}
}

// Users returns the typing users in sorted order.
func (t *TypingTracker) Users() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0, len(t.typing))
	for id := range t.typing {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

// Reset forgets everyone, e.g. after a reconnect.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	clear(t.typing)
	t.mu.Unlock()
}
