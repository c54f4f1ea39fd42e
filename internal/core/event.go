package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventConnected is the first event a registered connection receives.
	EventConnected EventKind = iota
	// EventMessage carries a chat message to every connection, sender included.
	EventMessage
	// EventUserTyping carries a typing signal to every connection except the sender.
	EventUserTyping
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connect"
	case EventMessage:
		return "message"
	case EventUserTyping:
		return "userTyping"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
// A single Event value is shared by every recipient of a broadcast and must not be mutated.
type Event struct {
	Kind     EventKind
	ConnID   string
	User     string
	Message  Message
	IsTyping bool
}
