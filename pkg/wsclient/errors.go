package wsclient

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; the underlying cause stays
// reachable through errors.As.
var (
	// ErrConnection: the websocket session could not be established.
	ErrConnection = errors.New("connection error")
	// ErrTransport: a send or receive failed on an established session.
	ErrTransport = errors.New("transport error")
	// ErrSerialization: an outgoing payload could not be encoded.
	ErrSerialization = errors.New("serialization error")
)

// Error is returned by every client operation that fails.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tonapi: %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
