// Package transporttest provides an in-memory transport.Session for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/scamazon/storefront/internal/transport"
)

// Invocation records one Invoke call that reached a connected session.
type Invocation struct {
	Method string
	Args   []any
}

// FakeSession is a scriptable transport.Session. By default Connect
// succeeds immediately; set Manual to hold the session in Connecting until
// Establish is called.
type FakeSession struct {
	name string

	mu          sync.Mutex
	state       transport.State
	frozen      bool
	handlers    map[string]transport.Handler
	onConnect   []func()
	onClose     []func(error)
	closeErr    error
	invocations []Invocation
	connects    int
	disconnects int

	// Manual leaves Connect in Connecting.
	Manual bool
	// ConnectErr, when set, makes Connect fail and stay Disconnected.
	ConnectErr error
}

var _ transport.Session = (*FakeSession)(nil)

// NewFakeSession returns a Disconnected fake named name.
func NewFakeSession(name string) *FakeSession {
	return &FakeSession{
		name:     name,
		handlers: make(map[string]transport.Handler),
	}
}

func (f *FakeSession) Name() string { return f.name }

func (f *FakeSession) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeSession) CloseErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeErr
}

func (f *FakeSession) On(event string, handler transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return transport.ErrHandlersFrozen
	}
	f.handlers[event] = handler
	return nil
}

func (f *FakeSession) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = append(f.onConnect, fn)
}

func (f *FakeSession) OnClose(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = append(f.onClose, fn)
}

func (f *FakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.state != transport.StateDisconnected {
		f.mu.Unlock()
		return nil
	}
	f.connects++
	f.frozen = true
	if f.ConnectErr != nil {
		err := f.ConnectErr
		f.mu.Unlock()
		return err
	}
	f.state = transport.StateConnecting
	manual := f.Manual
	f.mu.Unlock()

	if !manual {
		f.Establish()
	}
	return nil
}

// Establish completes a pending connection attempt and fires the connect
// callbacks.
func (f *FakeSession) Establish() {
	f.mu.Lock()
	if f.state != transport.StateConnecting {
		f.mu.Unlock()
		return
	}
	f.state = transport.StateConnected
	f.closeErr = nil
	callbacks := append([]func(){}, f.onConnect...)
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Drop simulates the server closing the channel.
func (f *FakeSession) Drop(err error) {
	f.mu.Lock()
	if f.state != transport.StateConnected && f.state != transport.StateConnecting {
		f.mu.Unlock()
		return
	}
	f.state = transport.StateDisconnected
	f.closeErr = err
	callbacks := append([]func(error){}, f.onClose...)
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
}

func (f *FakeSession) Invoke(method string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateConnected {
		return transport.ErrNotConnected
	}
	f.invocations = append(f.invocations, Invocation{Method: method, Args: args})
	return nil
}

func (f *FakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateConnected && f.state != transport.StateConnecting {
		return nil
	}
	f.disconnects++
	f.state = transport.StateDisconnected
	return nil
}

// Push delivers a server event to the registered handler, if any. It
// reports whether a handler was registered.
func (f *FakeSession) Push(event string, args ...any) bool {
	f.mu.Lock()
	h, ok := f.handlers[event]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(args...)
	return true
}

// Handlers returns the names of the registered events.
func (f *FakeSession) Handlers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.handlers))
	for name := range f.handlers {
		names = append(names, name)
	}
	return names
}

// Invocations returns a copy of the recorded invocations.
func (f *FakeSession) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Invocation(nil), f.invocations...)
}

// ConnectCalls returns how many Connect calls started an attempt.
func (f *FakeSession) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// DisconnectCalls returns how many Disconnect calls tore down a channel.
func (f *FakeSession) DisconnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}
