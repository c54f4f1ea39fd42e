package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage fans a chat message out to every connection.
	CommandSendMessage CommandKind = iota
	// CommandTyping fans a typing signal out to every other connection.
	CommandTyping

	commandRegister
	commandUnregister
	commandInspect
)

// Command represents an action requested by a connection.
// All commands, including lifecycle changes, travel through one hub queue so
// the events of a single connection are handled in the order they were submitted.
type Command struct {
	Kind     CommandKind
	From     *Client
	Message  Message
	IsTyping bool

	reply chan Snapshot
}
