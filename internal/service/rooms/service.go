package rooms

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/store"
)

// Common errors for room operations.
var (
	ErrEmptyText     = errors.New("message text is empty")
	ErrEmptyName     = errors.New("room name is empty")
	ErrEmptyEmoji    = errors.New("emoji is empty")
	ErrNotMember     = errors.New("user is not a room participant")
	ErrNothingToDo   = errors.New("patch changes nothing")
	ErrUnknownAuthor = errors.New("message author is required")
)

// Store is the persistence the room service needs.
type Store interface {
	store.RoomStore
	store.MessageStore
}

// NewRoom describes a room to create.
type NewRoom struct {
	Name         string
	Description  string
	CreatedBy    string
	Participants []string
}

// NewMessage is a message to append to a room.
type NewMessage struct {
	UserID   string
	UserName string
	Text     string
}

// MessagePatch holds the fields of a message that may change. Nil fields are left as is.
type MessagePatch struct {
	Text *string
}

// MessagesFunc receives a full ordered snapshot of a room's messages.
type MessagesFunc func([]*store.Message)

// RoomsFunc receives the rooms of one user, newest first.
type RoomsFunc func([]*store.Room)

// Each watcher loads its snapshot under its own lock, so deliveries never go
// back in time even when a change races with Subscribe.
type messageWatcher struct {
	roomID string
	fn     MessagesFunc

	mu      sync.Mutex
	stopped atomic.Bool
}

type roomWatcher struct {
	userID string
	fn     RoomsFunc

	mu      sync.Mutex
	stopped atomic.Bool
}

// Service provides rooms, messages and reactions with live snapshot subscriptions.
// Watchers are notified synchronously after the mutating call commits.
type Service struct {
	store Store
	log   *zerolog.Logger
	now   func() time.Time

	mu              sync.Mutex
	nextID          uint64
	messageWatchers map[uint64]*messageWatcher
	roomWatchers    map[uint64]*roomWatcher
}

// New creates a room service.
func New(st Store, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:           st,
		log:             logger,
		now:             time.Now,
		messageWatchers: make(map[uint64]*messageWatcher),
		roomWatchers:    make(map[uint64]*roomWatcher),
	}
}

// CreateRoom stores a new room. The creator is always a participant.
func (s *Service) CreateRoom(ctx context.Context, in NewRoom) (*store.Room, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrEmptyName
	}

	participants := make([]string, 0, len(in.Participants)+1)
	if in.CreatedBy != "" {
		participants = append(participants, in.CreatedBy)
	}
	for _, p := range in.Participants {
		if p != "" && !slices.Contains(participants, p) {
			participants = append(participants, p)
		}
	}

	room := &store.Room{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  strings.TrimSpace(in.Description),
		CreatedBy:    in.CreatedBy,
		CreatedAt:    s.now().UTC(),
		Participants: participants,
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	s.log.Info().Str("room_id", room.ID).Str("user_id", in.CreatedBy).Msg("room created")
	s.notifyRooms(ctx, room.Participants)
	return room, nil
}

// GetRoom returns a room by id.
func (s *Service) GetRoom(ctx context.Context, roomID string) (*store.Room, error) {
	return s.store.GetRoom(ctx, roomID)
}

// ListRooms returns the rooms the user participates in, newest first.
func (s *Service) ListRooms(ctx context.Context, userID string) ([]*store.Room, error) {
	return s.store.ListRoomsForUser(ctx, userID)
}

// ListMessages returns the messages of a room ordered by timestamp.
func (s *Service) ListMessages(ctx context.Context, roomID string) ([]*store.Message, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, roomID)
}

// GetMessage returns one message of a room.
func (s *Service) GetMessage(ctx context.Context, roomID, messageID string) (*store.Message, error) {
	return s.store.GetMessage(ctx, roomID, messageID)
}

// Append stores a message with a server timestamp and updates the room's last message.
func (s *Service) Append(ctx context.Context, roomID string, in NewMessage) (*store.Message, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrEmptyText
	}
	if in.UserID == "" {
		return nil, ErrUnknownAuthor
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    in.UserID,
		UserName:  in.UserName,
		Text:      in.Text,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.notifyMessages(ctx, roomID)
	s.notifyRooms(ctx, room.Participants)
	return msg, nil
}

// Update applies a patch to a message. A text change marks the message edited.
func (s *Service) Update(ctx context.Context, roomID, messageID string, patch MessagePatch) error {
	if patch.Text == nil {
		return ErrNothingToDo
	}
	if strings.TrimSpace(*patch.Text) == "" {
		return ErrEmptyText
	}

	if err := s.store.UpdateMessageText(ctx, roomID, messageID, *patch.Text, s.now().UTC()); err != nil {
		return err
	}

	s.notifyMessages(ctx, roomID)
	return nil
}

// Delete removes a message and its reactions.
func (s *Service) Delete(ctx context.Context, roomID, messageID string) error {
	if err := s.store.DeleteMessage(ctx, roomID, messageID); err != nil {
		return err
	}

	s.notifyMessages(ctx, roomID)
	return nil
}

// ToggleReaction adds the user's emoji reaction, or removes it when already present.
// It reports whether the reaction is present afterwards.
func (s *Service) ToggleReaction(ctx context.Context, roomID, messageID, emoji, userID, userName string) (bool, error) {
	if emoji == "" {
		return false, ErrEmptyEmoji
	}

	if _, err := s.store.GetMessage(ctx, roomID, messageID); err != nil {
		return false, err
	}

	reacted, err := s.store.ToggleReaction(ctx, messageID, store.Reaction{
		Emoji:     emoji,
		UserID:    userID,
		UserName:  userName,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("toggle reaction: %w", err)
	}

	s.notifyMessages(ctx, roomID)
	return reacted, nil
}

// IsParticipant reports whether the user belongs to the room.
func (s *Service) IsParticipant(ctx context.Context, roomID, userID string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !slices.Contains(room.Participants, userID) {
		return ErrNotMember
	}
	return nil
}

// Subscribe calls fn with the current messages of the room and again after every change.
// fn runs on the goroutine that made the change and must not modify the same room.
func (s *Service) Subscribe(ctx context.Context, roomID string, fn MessagesFunc) (func(), error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	w := &messageWatcher{roomID: roomID, fn: fn}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.messageWatchers[id] = w
	s.mu.Unlock()

	unsubscribe := func() {
		w.stopped.Store(true)
		s.mu.Lock()
		delete(s.messageWatchers, id)
		s.mu.Unlock()
	}

	if err := s.deliverMessages(ctx, w); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

// SubscribeRooms calls fn with the user's rooms and again whenever one of them changes.
// fn runs on the goroutine that made the change.
func (s *Service) SubscribeRooms(ctx context.Context, userID string, fn RoomsFunc) (func(), error) {
	w := &roomWatcher{userID: userID, fn: fn}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.roomWatchers[id] = w
	s.mu.Unlock()

	unsubscribe := func() {
		w.stopped.Store(true)
		s.mu.Lock()
		delete(s.roomWatchers, id)
		s.mu.Unlock()
	}

	if err := s.deliverRooms(ctx, w); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

func (s *Service) deliverMessages(ctx context.Context, w *messageWatcher) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped.Load() {
		return nil
	}
	msgs, err := s.store.ListMessages(ctx, w.roomID)
	if err != nil {
		return err
	}
	w.fn(msgs)
	return nil
}

func (s *Service) deliverRooms(ctx context.Context, w *roomWatcher) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped.Load() {
		return nil
	}
	rooms, err := s.store.ListRoomsForUser(ctx, w.userID)
	if err != nil {
		return err
	}
	w.fn(rooms)
	return nil
}

func (s *Service) notifyMessages(ctx context.Context, roomID string) {
	s.mu.Lock()
	var watchers []*messageWatcher
	for _, w := range s.messageWatchers {
		if w.roomID == roomID {
			watchers = append(watchers, w)
		}
	}
	s.mu.Unlock()

	for _, w := range watchers {
		if err := s.deliverMessages(ctx, w); err != nil {
			s.log.Error().Err(err).Str("room_id", roomID).Msg("load messages snapshot")
		}
	}
}

func (s *Service) notifyRooms(ctx context.Context, participants []string) {
	s.mu.Lock()
	var watchers []*roomWatcher
	for _, w := range s.roomWatchers {
		if slices.Contains(participants, w.userID) {
			watchers = append(watchers, w)
		}
	}
	s.mu.Unlock()

	for _, w := range watchers {
		if err := s.deliverRooms(ctx, w); err != nil {
			s.log.Error().Err(err).Str("user_id", w.userID).Msg("load rooms snapshot")
		}
	}
}
