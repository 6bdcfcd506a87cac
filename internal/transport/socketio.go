package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/scamazon/storefront/internal/credentials"
	"github.com/scamazon/storefront/internal/metrics"
	"github.com/scamazon/storefront/pkg/logger"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

const (
	eventConnect      = "connect"
	eventDisconnect   = "disconnect"
	eventConnectError = "connect_error"
)

// Endpoint identifies the server a session connects to.
type Endpoint struct {
	// Name labels the session ("app", "chat").
	Name string
	// URL is the server base URL.
	URL string
	// Path is the Socket.IO path of the hub on that server.
	Path string
}

// Conn is the subset of a live socket a SocketSession drives.
type Conn interface {
	On(event string, fn func(args ...any))
	Emit(event string, args ...any) error
	Close()
}

// Dialer opens a Conn to endpoint authenticated with token.
type Dialer func(ctx context.Context, endpoint Endpoint, token string) (Conn, error)

// SocketSession is a Session over Socket.IO.
type SocketSession struct {
	endpoint Endpoint
	tokens   credentials.Source
	dial     Dialer
	metrics  *metrics.Metrics

	mu        sync.Mutex
	state     State
	frozen    bool
	conn      Conn
	closeErr  error
	handlers  map[string]Handler
	onConnect []func()
	onClose   []func(error)
}

var _ Session = (*SocketSession)(nil)

// Option configures a SocketSession.
type Option func(*SocketSession)

// WithDialer replaces the Socket.IO dialer.
func WithDialer(d Dialer) Option {
	return func(s *SocketSession) {
		if d != nil {
			s.dial = d
		}
	}
}

// WithMetrics records transitions and invocations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SocketSession) { s.metrics = m }
}

// NewSocketSession creates a Disconnected session for endpoint. tokens is
// consulted on every connection attempt.
func NewSocketSession(endpoint Endpoint, tokens credentials.Source, opts ...Option) *SocketSession {
	s := &SocketSession{
		endpoint: endpoint,
		tokens:   tokens,
		dial:     dialSocketIO,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Session.
func (s *SocketSession) Name() string { return s.endpoint.Name }

// State implements Session.
func (s *SocketSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CloseErr implements Session.
func (s *SocketSession) CloseErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// On implements Session.
func (s *SocketSession) On(event string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return fmt.Errorf("%w: %s", ErrHandlersFrozen, event)
	}
	s.handlers[event] = handler
	return nil
}

// OnConnect implements Session.
func (s *SocketSession) OnConnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// OnClose implements Session.
func (s *SocketSession) OnClose(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// Connect implements Session.
func (s *SocketSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		logger.Debugf("transport %s: connect skipped, state=%s", s.endpoint.Name, state)
		return nil
	}
	s.frozen = true
	s.setStateLocked(StateConnecting)
	handlers := make(map[string]Handler, len(s.handlers))
	for name, h := range s.handlers {
		handlers[name] = h
	}
	s.mu.Unlock()

	token, err := s.tokens.Token(ctx)
	if err == nil && strings.TrimSpace(token) == "" {
		err = credentials.ErrNoCredentials
	}
	if err != nil {
		s.abortConnect()
		logger.Infof("transport %s: connect skipped: %v", s.endpoint.Name, err)
		return fmt.Errorf("transport %s: %w", s.endpoint.Name, err)
	}

	conn, err := s.dial(ctx, s.endpoint, token)
	if err != nil {
		s.abortConnect()
		logger.Warnf("transport %s: connect failed: %v", s.endpoint.Name, err)
		return fmt.Errorf("transport %s: connect: %w", s.endpoint.Name, err)
	}

	conn.On(eventConnect, func(...any) { s.handleConnected(conn) })
	conn.On(eventDisconnect, func(args ...any) { s.handleDisconnected(conn, args) })
	conn.On(eventConnectError, func(args ...any) { s.handleConnectError(conn, args) })
	for name, h := range handlers {
		conn.On(name, s.dispatch(name, h))
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect raced with the dial.
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	logger.Debugf("transport %s: connecting to %s%s", s.endpoint.Name, s.endpoint.URL, s.endpoint.Path)
	return nil
}

// Invoke implements Session.
func (s *SocketSession) Invoke(method string, args ...any) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		s.metrics.Invocation(s.endpoint.Name, method, "dropped")
		logger.Warnf("transport %s: dropping %s, state=%s", s.endpoint.Name, method, state)
		return fmt.Errorf("%w: %s", ErrNotConnected, method)
	}
	if err := conn.Emit(method, args...); err != nil {
		s.metrics.Invocation(s.endpoint.Name, method, "failed")
		logger.Warnf("transport %s: %s failed: %v", s.endpoint.Name, method, err)
		return fmt.Errorf("transport %s: %s: %w", s.endpoint.Name, method, err)
	}
	s.metrics.Invocation(s.endpoint.Name, method, "sent")
	logger.Tracef("transport %s: invoked %s %v", s.endpoint.Name, method, args)
	return nil
}

// Disconnect implements Session.
func (s *SocketSession) Disconnect() error {
	s.mu.Lock()
	if s.state != StateConnected && s.state != StateConnecting {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.setStateLocked(StateDisconnecting)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	s.mu.Lock()
	if s.conn == conn && s.state == StateDisconnecting {
		s.conn = nil
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()

	logger.Debugf("transport %s: disconnected", s.endpoint.Name)
	return nil
}

func (s *SocketSession) abortConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.setStateLocked(StateDisconnected)
	}
}

func (s *SocketSession) handleConnected(conn Conn) {
	s.mu.Lock()
	if s.conn != conn || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.closeErr = nil
	s.setStateLocked(StateConnected)
	callbacks := append([]func(){}, s.onConnect...)
	s.mu.Unlock()

	logger.Infof("transport %s: connected", s.endpoint.Name)
	for _, fn := range callbacks {
		s.safely("connect callback", fn)
	}
}

func (s *SocketSession) handleDisconnected(conn Conn, args []any) {
	reason := "unknown"
	if len(args) > 0 {
		reason = fmt.Sprint(args[0])
	}

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	requested := s.state == StateDisconnecting
	s.conn = nil
	s.setStateLocked(StateDisconnected)
	if requested {
		s.mu.Unlock()
		return
	}
	err := fmt.Errorf("connection closed: %s", reason)
	s.closeErr = err
	callbacks := append([]func(error){}, s.onClose...)
	s.mu.Unlock()

	// The socket may try to recover on its own; this session does not.
	conn.Close()
	logger.Warnf("transport %s: %v", s.endpoint.Name, err)
	for _, fn := range callbacks {
		s.safely("close callback", func() { fn(err) })
	}
}

func (s *SocketSession) handleConnectError(conn Conn, args []any) {
	err := errors.New("connect error")
	if len(args) > 0 {
		err = fmt.Errorf("connect error: %v", args[0])
	}

	s.mu.Lock()
	if s.conn != conn || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.closeErr = err
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	conn.Close()
	logger.Warnf("transport %s: %v", s.endpoint.Name, err)
}

// dispatch wraps h so that a panic while handling one event is logged and
// confined to that event.
func (s *SocketSession) dispatch(event string, h Handler) func(args ...any) {
	return func(args ...any) {
		s.metrics.Inbound(s.endpoint.Name, event)
		logger.Tracef("transport %s: received %s", s.endpoint.Name, event)
		s.safely(event, func() { h(args...) })
	}
}

func (s *SocketSession) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("transport %s: %s panicked: %v", s.endpoint.Name, what, r)
		}
	}()
	fn()
}

func (s *SocketSession) setStateLocked(state State) {
	if s.state == state {
		return
	}
	logger.Debugf("transport %s: %s -> %s", s.endpoint.Name, s.state, state)
	s.state = state
	s.metrics.Transition(s.endpoint.Name, state.String())
}

// ioConn adapts a Socket.IO client socket to Conn.
type ioConn struct {
	sock *socket.Socket
}

func (c ioConn) On(event string, fn func(args ...any)) {
	_ = c.sock.On(types.EventName(event), fn)
}

func (c ioConn) Emit(event string, args ...any) error {
	return c.sock.Emit(event, args...)
}

func (c ioConn) Close() {
	c.sock.Disconnect()
}

// dialSocketIO opens a Socket.IO connection with the token in the auth
// payload. Built-in reconnection is disabled: reconnecting is always an
// explicit caller decision.
func dialSocketIO(_ context.Context, endpoint Endpoint, token string) (Conn, error) {
	opts := socket.DefaultOptions()
	if endpoint.Path != "" {
		opts.SetPath(endpoint.Path)
	}
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetReconnection(false)
	opts.SetAuth(map[string]any{
		"token": token,
	})

	sock, err := socket.Connect(endpoint.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return ioConn{sock: sock}, nil
}
