package core

import (
	"time"

	"github.com/vovakirdan/relaychat/internal/metrics"
)

// ConnSet is the set of registered connections keyed by connection id.
type ConnSet map[string]*Client

// MessageBroadcaster delivers chat messages to every registered connection,
// the sender included: clients render their own messages from the echo.
type MessageBroadcaster struct{}

// BroadcastAll enqueues ev for every connection in conns.
// A connection whose buffer is full or which is already gone is skipped.
func (MessageBroadcaster) BroadcastAll(conns ConnSet, ev *Event) (delivered, dropped int) {
	start := time.Now()
	for _, client := range conns {
		if client.deliver(ev) {
			delivered++
		} else {
			dropped++
		}
	}
	observe(ev.Kind, delivered, dropped, start)
	return delivered, dropped
}

// TypingBroadcaster delivers typing signals to every connection except the one
// that produced them. Exclusion is by connection, so other devices of the same
// user still see the signal.
type TypingBroadcaster struct{}

// BroadcastExcept enqueues ev for every connection in conns other than senderID.
func (TypingBroadcaster) BroadcastExcept(conns ConnSet, senderID string, ev *Event) (delivered, dropped int) {
	start := time.Now()
	for id, client := range conns {
		if id == senderID {
			continue
		}
		if client.deliver(ev) {
			delivered++
		} else {
			dropped++
		}
	}
	observe(ev.Kind, delivered, dropped, start)
	return delivered, dropped
}

func observe(kind EventKind, delivered, dropped int, start time.Time) {
	name := kind.String()
	metrics.DeliveriesTotal.WithLabelValues(name, "delivered").Add(float64(delivered))
	metrics.DeliveriesTotal.WithLabelValues(name, "dropped").Add(float64(dropped))
	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
}
