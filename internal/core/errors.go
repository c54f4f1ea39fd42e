package core

import "errors"

var (
	// ErrHubClosed is returned when the hub loop has stopped.
	ErrHubClosed = errors.New("hub closed")
	// ErrNilClient is returned for commands without an originating connection.
	ErrNilClient = errors.New("command without client")
)
