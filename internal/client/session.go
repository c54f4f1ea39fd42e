// Package client is the relay client used by front ends: one Session owns one
// outbound WebSocket connection and fans received events out to subscribers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/utils"
)

// ErrNotConnected is returned by send operations while no connection is open.
var ErrNotConnected = errors.New("client: not connected")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 1 << 20
)

// Options configures a Session.
type Options struct {
	// URL is the relay endpoint, e.g. ws://localhost:3000/ws.
	URL string
	// Token is an optional session token sent with the handshake.
	Token string
	// HandshakeTimeout bounds dialing plus waiting for the relay acknowledgement.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound frame.
	WriteTimeout time.Duration
	Logger       *zerolog.Logger
	HTTPClient   *http.Client
}

// Message is a chat message as seen by the client.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Text      string
	Timestamp time.Time
}

// TypingEvent reports that another connection started or stopped typing.
type TypingEvent struct {
	UserID   string
	IsTyping bool
}

// ConnectEvent describes an acknowledged connection.
type ConnectEvent struct {
	ConnID string
	UserID string
}

// Session is a client connection to the relay. It is safe for concurrent use.
// Callbacks run on the session's read goroutine, one event at a time.
type Session struct {
	opts Options
	log  *zerolog.Logger
	now  func() time.Time

	// dialMu serializes Connect so at most one connection is live.
	dialMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	userID string

	onMessage      listeners[Message]
	onUserTyping   listeners[TypingEvent]
	onConnect      listeners[ConnectEvent]
	onConnectError listeners[error]
	onDisconnect   listeners[error]
}

// New creates a session. Nothing is dialed until Connect.
func New(opts Options) *Session {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Session{
		opts: opts,
		log:  logger,
		now:  time.Now,
	}
}

// Connect dials the relay as userID and waits for the relay to acknowledge the
// connection. An existing connection is closed first. Failures are reported to
// OnConnectError subscribers and returned.
func (s *Session) Connect(ctx context.Context, userID string) error {
	s.dialMu.Lock()
	if err := s.Disconnect(); err != nil {
		s.log.Debug().Err(err).Msg("close previous connection")
	}

	conn, ack, err := s.dial(ctx, userID)
	if err != nil {
		s.dialMu.Unlock()
		s.log.Error().Err(err).Str("user_id", userID).Msg("relay connection error")
		s.onConnectError.emit(err)
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	prev, prevCancel := s.conn, s.cancel
	s.conn = conn
	s.cancel = cancel
	s.userID = userID
	s.mu.Unlock()
	s.dialMu.Unlock()

	if prev != nil {
		prev.Close(websocket.StatusNormalClosure, "client disconnect")
		prevCancel()
	}

	s.log.Info().Str("conn_id", ack.ID).Str("user_id", userID).Msg("connected to relay")
	s.onConnect.emit(ConnectEvent{ConnID: ack.ID, UserID: ack.UserID})

	go s.readLoop(readCtx, conn)
	return nil
}

func (s *Session) dial(ctx context.Context, userID string) (*websocket.Conn, proto.ConnectPayload, error) {
	endpoint, err := s.endpoint(userID)
	if err != nil {
		return nil, proto.ConnectPayload{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPClient: s.opts.HTTPClient})
	if err != nil {
		return nil, proto.ConnectPayload{}, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	var frame proto.Inbound
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, proto.ConnectPayload{}, fmt.Errorf("await relay acknowledgement: %w", err)
	}
	if frame.Event != proto.EventConnect {
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, proto.ConnectPayload{}, fmt.Errorf("%w: expected %q frame, got %q", proto.ErrMalformed, proto.EventConnect, frame.Event)
	}

	var ack proto.ConnectPayload
	if err := json.Unmarshal(frame.Data, &ack); err != nil {
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, proto.ConnectPayload{}, fmt.Errorf("%w: %v", proto.ErrMalformed, err)
	}
	return conn, ack, nil
}

func (s *Session) endpoint(userID string) (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	if userID != "" {
		q.Set(proto.QueryUserID, userID)
	}
	if s.opts.Token != "" {
		q.Set(proto.QueryToken, s.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Disconnect closes the current connection. Without one it does nothing.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel = nil, nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
	cancel()
	s.log.Info().Msg("disconnected from relay")
	return err
}

// Connected reports whether a connection is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// UserID returns the user id of the last Connect call.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SendMessage emits a chat message. Empty UserID, ID and Timestamp are filled in
// from the session, a fresh id and the current time.
func (s *Session) SendMessage(ctx context.Context, msg Message) error {
	conn, userID := s.current()
	if conn == nil {
		return ErrNotConnected
	}

	if msg.UserID == "" {
		msg.UserID = userID
	}
	now := s.now()
	if msg.ID == "" {
		msg.ID = utils.NewMessageID(now)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	return s.write(ctx, conn, proto.Outbound{
		Event: proto.EventMessage,
		Data: proto.MessagePayload{
			Text:      msg.Text,
			UserID:    msg.UserID,
			ID:        msg.ID,
			Timestamp: msg.Timestamp.UTC().Format(time.RFC3339Nano),
			RoomID:    msg.RoomID,
		},
	})
}

// EmitTyping tells the other connections whether this user is typing.
func (s *Session) EmitTyping(ctx context.Context, isTyping bool) error {
	conn, userID := s.current()
	if conn == nil {
		return ErrNotConnected
	}

	return s.write(ctx, conn, proto.Outbound{
		Event: proto.EventTyping,
		Data:  proto.TypingPayload{UserID: userID, IsTyping: isTyping},
	})
}

// OnMessage subscribes to chat messages, the session's own included.
func (s *Session) OnMessage(fn func(Message)) *Subscription {
	return s.onMessage.add(fn)
}

// OnUserTyping subscribes to typing signals of other connections.
func (s *Session) OnUserTyping(fn func(TypingEvent)) *Subscription {
	return s.onUserTyping.add(fn)
}

// OnConnect subscribes to acknowledged connections.
func (s *Session) OnConnect(fn func(ConnectEvent)) *Subscription {
	return s.onConnect.add(fn)
}

// OnConnectError subscribes to failed Connect attempts.
func (s *Session) OnConnectError(fn func(error)) *Subscription {
	return s.onConnectError.add(fn)
}

// OnDisconnect subscribes to connection loss. The error is nil after Disconnect.
func (s *Session) OnDisconnect(fn func(error)) *Subscription {
	return s.onDisconnect.add(fn)
}

func (s *Session) current() (*websocket.Conn, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.userID
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, frame proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, frame); err != nil {
		s.log.Warn().Err(err).Str("event", frame.Event).Msg("write to relay")
		return fmt.Errorf("send %s: %w", frame.Event, err)
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	var reason error
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			reason = err
			break
		}

		var frame proto.Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Warn().Err(err).Msg("malformed frame from relay")
			continue
		}
		s.dispatch(frame)
	}

	s.mu.Lock()
	closedByUs := s.conn != conn
	if !closedByUs {
		s.conn, s.cancel = nil, nil
	}
	s.mu.Unlock()

	status := websocket.CloseStatus(reason)
	if closedByUs || status == websocket.StatusNormalClosure {
		reason = nil
	} else {
		s.log.Warn().Err(reason).Msg("relay connection lost")
		conn.CloseNow()
	}
	s.onDisconnect.emit(reason)
}

func (s *Session) dispatch(frame proto.Inbound) {
	switch frame.Event {
	case proto.EventMessage:
		payload, err := proto.DecodeMessage(frame.Data)
		if err != nil {
			s.log.Warn().Err(err).Msg("malformed message from relay")
			return
		}
		s.onMessage.emit(Message{
			ID:        payload.ID,
			RoomID:    payload.RoomID,
			UserID:    payload.UserID,
			Text:      payload.Text,
			Timestamp: s.parseTimestamp(payload.Timestamp),
		})
	case proto.EventUserTyping:
		var payload proto.UserTypingPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			s.log.Warn().Err(err).Msg("malformed typing signal from relay")
			return
		}
		s.onUserTyping.emit(TypingEvent{UserID: payload.UserID, IsTyping: payload.IsTyping})
	default:
		s.log.Debug().Str("event", frame.Event).Msg("ignoring relay event")
	}
}

// parseTimestamp reads the sender's timestamp, falling back to the receive time.
func (s *Session) parseTimestamp(raw string) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ts
		}
	}
	return s.now()
}
