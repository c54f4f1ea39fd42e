package core

import "sync/atomic"

// State is the lifecycle stage of a relay connection.
type State int32

const (
	// StateConnecting is set until the hub has registered the connection.
	StateConnecting State = iota
	// StateConnected means the connection receives broadcasts.
	StateConnected
	// StateDisconnected is terminal.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const defaultEventBuffer = 64

// Client is one live relay connection as seen by the core layer.
type Client struct {
	ID       string
	UserID   string
	Verified bool
	Events   chan *Event

	state atomic.Int32
}

// NewClient constructs a client with an initialized outbound channel.
// A non-positive buffer falls back to the default size.
func NewClient(id, userID string, buffer int, verified bool) *Client {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Client{
		ID:       id,
		UserID:   userID,
		Verified: verified,
		Events:   make(chan *Event, buffer),
	}
}

// State reports the lifecycle stage. Safe for concurrent use.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// deliver enqueues the event without blocking. It reports false when the
// client is gone or its buffer is full.
func (c *Client) deliver(ev *Event) bool {
	if c.State() == StateDisconnected {
		return false
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
