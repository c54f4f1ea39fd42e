package core

// Message is a chat message as it travels through the relay.
// The relay never generates ID or Timestamp; both are carried as the client sent them.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Text      string
	Timestamp string
}
