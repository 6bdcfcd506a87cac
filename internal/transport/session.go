// Package transport provides the persistent, authenticated, named-event
// sessions the connection manager is built on.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by Invoke when the session is not
	// Connected. The invocation is dropped, never queued.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrHandlersFrozen is returned by On once the session has left
	// Disconnected for the first time.
	ErrHandlersFrozen = errors.New("transport: handlers must be registered before the first connect")
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Handler receives the arguments of one server-pushed named event.
type Handler func(args ...any)

// Session is one logical, reconnectable channel to one endpoint.
//
// A Session never reconnects on its own: after a drop it stays Disconnected
// until Connect is called again.
type Session interface {
	// Name labels the session in logs and metrics.
	Name() string

	// State returns the current connection state.
	State() State

	// On registers the handler for a named event. Only one handler per name
	// is kept. Registration after the first Connect fails with
	// ErrHandlersFrozen.
	On(event string, handler Handler) error

	// OnConnect registers a callback fired on every transition into
	// Connected.
	OnConnect(fn func())

	// OnClose registers a callback fired when the channel drops without a
	// Disconnect call.
	OnClose(fn func(err error))

	// Connect starts a connection attempt with a freshly fetched token. It
	// is a no-op while Connecting or Connected.
	Connect(ctx context.Context) error

	// Invoke sends a remote call. It fails with ErrNotConnected unless the
	// session is Connected.
	Invoke(method string, args ...any) error

	// Disconnect tears the channel down. It is a no-op unless Connecting or
	// Connected.
	Disconnect() error

	// CloseErr returns the error of the last unsolicited close, if any.
	CloseErr() error
}
