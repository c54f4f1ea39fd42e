package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint is violated.
var ErrConflict = errors.New("already exists")

// User represents a registered account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Session is a signed-in session backing one issued token.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// LastMessage summarizes the newest message of a room.
type LastMessage struct {
	Text      string
	Timestamp time.Time
}

// Room represents a chat room.
type Room struct {
	ID           string
	Name         string
	Description  string
	CreatedBy    string
	CreatedAt    time.Time
	LastMessage  *LastMessage
	Participants []string
}

// Reaction is one user's emoji reaction on a message.
type Reaction struct {
	Emoji     string
	UserID    string
	UserName  string
	Timestamp time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
	Edited    bool
	EditedAt  *time.Time
	Reactions map[string][]Reaction
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user. Returns ErrConflict for a taken email.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// SessionStore handles session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom stores the room and its participants.
	CreateRoom(ctx context.Context, room *Room) error

	// GetRoom retrieves a room with its participants.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// ListRoomsForUser lists rooms the user participates in, newest first.
	ListRoomsForUser(ctx context.Context, userID string) ([]*Room, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// AppendMessage persists a new message and makes it the room's last message atomically.
	AppendMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message of a room, reactions included.
	GetMessage(ctx context.Context, roomID, id string) (*Message, error)

	// ListMessages returns all messages of a room ordered by timestamp ascending.
	ListMessages(ctx context.Context, roomID string) ([]*Message, error)

	// UpdateMessageText replaces the text and marks the message edited.
	UpdateMessageText(ctx context.Context, roomID, id, text string, editedAt time.Time) error

	// DeleteMessage removes a message and its reactions.
	DeleteMessage(ctx context.Context, roomID, id string) error

	// ToggleReaction removes the reaction keyed by message, emoji and user, or adds it
	// when absent, in one transaction. It reports whether the reaction exists afterwards.
	ToggleReaction(ctx context.Context, messageID string, r Reaction) (bool, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	SessionStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
