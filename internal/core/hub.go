package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/metrics"
)

const inboxSize = 256

// Snapshot is a point-in-time view of the hub state.
type Snapshot struct {
	Connections int
	Bindings    map[string]string
}

// Hub is the relay dispatch loop. A single goroutine (Run) owns the registry
// and the connection set; everything else talks to it through the inbox.
type Hub struct {
	registry *Registry
	conns    ConnSet
	messages MessageBroadcaster
	typing   TypingBroadcaster

	inbox chan *Command
	done  chan struct{}
	log   *zerolog.Logger
}

// NewHub creates a new relay hub. A nil logger disables logging.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		registry: NewRegistry(),
		conns:    make(ConnSet),
		inbox:    make(chan *Command, inboxSize),
		done:     make(chan struct{}),
		log:      logger,
	}
}

// Run processes commands until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case cmd := <-h.inbox:
			h.dispatch(cmd)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// RegisterClient adds the client to the connection set and binds its identity.
// The client receives an EventConnected once registration is processed.
func (h *Hub) RegisterClient(c *Client) error {
	if c == nil {
		return ErrNilClient
	}
	return h.enqueue(context.Background(), &Command{Kind: commandRegister, From: c})
}

// UnregisterClient removes the client and closes its Events channel.
// Calling it more than once is harmless.
func (h *Hub) UnregisterClient(c *Client) error {
	if c == nil {
		return ErrNilClient
	}
	return h.enqueue(context.Background(), &Command{Kind: commandUnregister, From: c})
}

// Submit queues a client command for dispatch.
func (h *Hub) Submit(ctx context.Context, cmd *Command) error {
	if cmd == nil || cmd.From == nil {
		return ErrNilClient
	}
	switch cmd.Kind {
	case CommandSendMessage, CommandTyping:
	default:
		return fmt.Errorf("submit: unsupported command kind %d", cmd.Kind)
	}
	return h.enqueue(ctx, cmd)
}

// Snapshot returns the current connection count and identity bindings.
func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := h.enqueue(ctx, &Command{Kind: commandInspect, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-h.done:
		return Snapshot{}, ErrHubClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (h *Hub) enqueue(ctx context.Context, cmd *Command) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.inbox <- cmd:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch runs one command to completion. A panicking handler is logged and
// the loop keeps going.
func (h *Hub) dispatch(cmd *Command) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Int("kind", int(cmd.Kind)).Msg("hub handler panicked")
		}
	}()

	switch cmd.Kind {
	case commandRegister:
		h.handleRegister(cmd.From)
	case commandUnregister:
		h.handleUnregister(cmd.From)
	case commandInspect:
		cmd.reply <- Snapshot{Connections: len(h.conns), Bindings: h.registry.Bindings()}
	case CommandSendMessage:
		h.handleMessage(cmd)
	case CommandTyping:
		h.handleTyping(cmd)
	}
}

func (h *Hub) handleRegister(c *Client) {
	if _, exists := h.conns[c.ID]; exists {
		h.log.Warn().Str("conn_id", c.ID).Msg("connection already registered")
		return
	}

	h.conns[c.ID] = c
	if c.UserID != "" {
		h.registry.Register(c.ID, c.UserID)
	}
	c.setState(StateConnected)
	metrics.ConnectionsActive.Set(float64(len(h.conns)))

	c.deliver(&Event{Kind: EventConnected, ConnID: c.ID, User: c.UserID})
	h.log.Info().Str("conn_id", c.ID).Str("user_id", c.UserID).Bool("verified", c.Verified).Msg("user connected")
}

func (h *Hub) handleUnregister(c *Client) {
	h.registry.Unregister(c.ID)

	current, exists := h.conns[c.ID]
	if !exists || current != c {
		return
	}
	delete(h.conns, c.ID)
	c.setState(StateDisconnected)
	close(c.Events)
	metrics.ConnectionsActive.Set(float64(len(h.conns)))

	h.log.Info().Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("user disconnected")
}

func (h *Hub) handleMessage(cmd *Command) {
	sender := cmd.From
	if _, live := h.conns[sender.ID]; !live {
		h.log.Debug().Str("conn_id", sender.ID).Msg("message from unregistered connection dropped")
		return
	}

	msg := cmd.Message
	if bound, ok := h.registry.IdentityOf(sender.ID); ok && (msg.UserID == "" || sender.Verified) {
		msg.UserID = bound
	}

	ev := &Event{Kind: EventMessage, ConnID: sender.ID, User: msg.UserID, Message: msg}
	delivered, dropped := h.messages.BroadcastAll(h.conns, ev)
	h.log.Debug().
		Str("conn_id", sender.ID).
		Str("user_id", msg.UserID).
		Int("delivered", delivered).
		Int("dropped", dropped).
		Msg("message broadcast")
}

func (h *Hub) handleTyping(cmd *Command) {
	sender := cmd.From
	if _, live := h.conns[sender.ID]; !live {
		h.log.Debug().Str("conn_id", sender.ID).Msg("typing from unregistered connection dropped")
		return
	}

	// Unknown senders still broadcast, with an empty user id.
	user, _ := h.registry.IdentityOf(sender.ID)
	ev := &Event{Kind: EventUserTyping, ConnID: sender.ID, User: user, IsTyping: cmd.IsTyping}
	delivered, dropped := h.typing.BroadcastExcept(h.conns, sender.ID, ev)
	h.log.Debug().
		Str("conn_id", sender.ID).
		Str("user_id", user).
		Bool("is_typing", cmd.IsTyping).
		Int("delivered", delivered).
		Int("dropped", dropped).
		Msg("typing broadcast")
}

func (h *Hub) shutdown() {
	for id, c := range h.conns {
		h.registry.Unregister(id)
		delete(h.conns, id)
		c.setState(StateDisconnected)
		close(c.Events)
	}
	metrics.ConnectionsActive.Set(0)
	h.log.Info().Msg("hub stopped")
}
