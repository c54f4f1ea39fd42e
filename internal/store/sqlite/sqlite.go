package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/relaychat/internal/store"
)

//go:embed schema.sql
var schema string

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies the schema.
// ":memory:" gives a private in-memory database.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	query := `
		INSERT INTO users (id, email, display_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, email, display_name, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	query := `
		SELECT id, email, display_name, password_hash, created_at
		FROM users
		WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, notFound("user", err)
	}
	return &user, nil
}

// ==== SessionStore implementation ====

// CreateSession stores a session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *store.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, session.ID, session.UserID, session.CreatedAt.UTC(), session.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	query := `
		SELECT id, user_id, created_at, expires_at
		FROM sessions
		WHERE id = ?
	`
	var session store.Session
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		return nil, notFound("session", err)
	}
	return &session, nil
}

// DeleteSession removes a session. Missing sessions are not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ==== RoomStore implementation ====

// CreateRoom stores the room and its participants in one transaction.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *store.Room) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after Commit is a no-op
	}()

	query := `
		INSERT INTO rooms (id, name, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, room.ID, room.Name, room.Description, room.CreatedBy, room.CreatedAt.UTC()); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert room: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert room: %w", err)
	}

	participantQuery := `
		INSERT OR IGNORE INTO room_participants (room_id, user_id, position)
		VALUES (?, ?, ?)
	`
	for i, userID := range room.Participants {
		if _, err := tx.ExecContext(ctx, participantQuery, room.ID, userID, i); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetRoom retrieves a room with its participants.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	query := `
		SELECT id, name, description, created_by, created_at, last_message_text, last_message_at
		FROM rooms
		WHERE id = ?
	`
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("room", err)
	}
	if room.Participants, err = s.listParticipants(ctx, room.ID); err != nil {
		return nil, err
	}
	return room, nil
}

// ListRoomsForUser lists rooms the user participates in, newest first.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID string) ([]*store.Room, error) {
	query := `
		SELECT r.id, r.name, r.description, r.created_by, r.created_at, r.last_message_text, r.last_message_at
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE p.user_id = ?
		ORDER BY r.created_at DESC, r.rowid DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	rows.Close()

	for _, room := range rooms {
		if room.Participants, err = s.listParticipants(ctx, room.ID); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

func (s *SQLiteStore) listParticipants(ctx context.Context, roomID string) ([]string, error) {
	query := `
		SELECT user_id FROM room_participants
		WHERE room_id = ?
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, userID)
	}
	return participants, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (*store.Room, error) {
	var (
		room     store.Room
		lastText sql.NullString
		lastAt   sql.NullTime
	)
	if err := row.Scan(
		&room.ID,
		&room.Name,
		&room.Description,
		&room.CreatedBy,
		&room.CreatedAt,
		&lastText,
		&lastAt,
	); err != nil {
		return nil, err
	}
	if lastText.Valid {
		room.LastMessage = &store.LastMessage{Text: lastText.String, Timestamp: lastAt.Time}
	}
	return &room, nil
}

// ==== MessageStore implementation ====

// AppendMessage inserts the message and makes it the room's last message in one transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after Commit is a no-op
	}()

	query := `
		INSERT INTO messages (id, room_id, user_id, user_name, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query, msg.ID, msg.RoomID, msg.UserID, msg.UserName, msg.Text, msg.Timestamp.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert message: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert message: %w", err)
	}

	lastQuery := `
		UPDATE rooms SET last_message_text = ?, last_message_at = ?
		WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, lastQuery, msg.Text, msg.Timestamp.UTC(), msg.RoomID)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if err := expectRow(res, "room"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetMessage retrieves a message of a room, reactions included.
func (s *SQLiteStore) GetMessage(ctx context.Context, roomID, id string) (*store.Message, error) {
	query := `
		SELECT id, room_id, user_id, user_name, text, created_at, edited, edited_at
		FROM messages
		WHERE room_id = ? AND id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, roomID, id))
	if err != nil {
		return nil, notFound("message", err)
	}
	if err := s.attachReactions(ctx, `WHERE r.message_id = ?`, []any{msg.ID}, map[string]*store.Message{msg.ID: msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns all messages of a room ordered by timestamp ascending.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string) ([]*store.Message, error) {
	query := `
		SELECT id, room_id, user_id, user_name, text, created_at, edited, edited_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*store.Message{}
	byID := make(map[string]*store.Message)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
		byID[msg.ID] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	rows.Close()

	if err := s.attachReactions(ctx, `JOIN messages m ON m.id = r.message_id WHERE m.room_id = ?`, []any{roomID}, byID); err != nil {
		return nil, err
	}
	return messages, nil
}

// UpdateMessageText replaces the text and marks the message edited.
func (s *SQLiteStore) UpdateMessageText(ctx context.Context, roomID, id, text string, editedAt time.Time) error {
	query := `
		UPDATE messages SET text = ?, edited = 1, edited_at = ?
		WHERE room_id = ? AND id = ?
	`
	res, err := s.db.ExecContext(ctx, query, text, editedAt.UTC(), roomID, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return expectRow(res, "message")
}

// DeleteMessage removes a message; reactions cascade.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, roomID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ? AND id = ?`, roomID, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return expectRow(res, "message")
}

// ToggleReaction removes the user's reaction when present and adds it otherwise.
// It reports whether the reaction exists afterwards.
func (s *SQLiteStore) ToggleReaction(ctx context.Context, messageID string, r store.Reaction) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after Commit is a no-op
	}()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM reactions
		WHERE message_id = ? AND emoji = ? AND user_id = ?
	`, messageID, r.Emoji, r.UserID)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if removed == 0 {
		query := `
			INSERT INTO reactions (message_id, emoji, user_id, user_name, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query, messageID, r.Emoji, r.UserID, r.UserName, r.Timestamp.UTC()); err != nil {
			return false, fmt.Errorf("insert reaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return removed == 0, nil
}

func (s *SQLiteStore) attachReactions(ctx context.Context, where string, args []any, byID map[string]*store.Message) error {
	query := `
		SELECT r.message_id, r.emoji, r.user_id, r.user_name, r.created_at
		FROM reactions r
	` + where + `
		ORDER BY r.created_at ASC, r.rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID string
			r         store.Reaction
		)
		if err := rows.Scan(&messageID, &r.Emoji, &r.UserID, &r.UserName, &r.Timestamp); err != nil {
			return fmt.Errorf("scan reaction: %w", err)
		}
		msg, ok := byID[messageID]
		if !ok {
			continue
		}
		if msg.Reactions == nil {
			msg.Reactions = make(map[string][]store.Reaction)
		}
		msg.Reactions[r.Emoji] = append(msg.Reactions[r.Emoji], r)
	}
	return rows.Err()
}

func scanMessage(row scanner) (*store.Message, error) {
	var (
		msg      store.Message
		editedAt sql.NullTime
	)
	if err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.UserID,
		&msg.UserName,
		&msg.Text,
		&msg.Timestamp,
		&msg.Edited,
		&editedAt,
	); err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	return &msg, nil
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
