package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/scamazon/storefront/internal/credentials"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	handlers map[string]func(args ...any)
	emitted  []string
	emitErr  error
	closed   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]func(args ...any))}
}

func (c *fakeConn) On(event string, fn func(args ...any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

func (c *fakeConn) Emit(event string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emitted = append(c.emitted, event)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeConn) fire(event string, args ...any) {
	c.mu.Lock()
	fn := c.handlers[event]
	c.mu.Unlock()
	if fn != nil {
		fn(args...)
	}
}

type dialRecorder struct {
	mu     sync.Mutex
	conns  []*fakeConn
	tokens []string
	err    error
}

func (d *dialRecorder) dial(_ context.Context, _ Endpoint, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *dialRecorder) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func newTestSession(t *testing.T, tokens credentials.Source) (*SocketSession, *dialRecorder) {
	t.Helper()
	d := &dialRecorder{}
	s := NewSocketSession(Endpoint{Name: "app", URL: "http://example.test", Path: "/app-hub"}, tokens, WithDialer(d.dial))
	return s, d
}

func TestSocketSessionConnectLifecycle(t *testing.T) {
	s, d := newTestSession(t, credentials.Static("tok"))

	var connects int
	s.OnConnect(func() { connects++ })

	require.Equal(t, StateDisconnected, s.State())
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, StateConnecting, s.State())

	// A second call while an attempt is pending is a no-op.
	require.NoError(t, s.Connect(context.Background()))
	require.Len(t, d.tokens, 1)

	d.last().fire(eventConnect)
	require.Equal(t, StateConnected, s.State())
	require.Equal(t, 1, connects)

	require.NoError(t, s.Disconnect())
	require.Equal(t, StateDisconnected, s.State())
	require.Equal(t, 1, d.last().closed)

	// Already disconnected: nothing to tear down.
	require.NoError(t, s.Disconnect())
	require.Equal(t, 1, d.last().closed)
}

func TestSocketSessionHandlersFrozenAfterFirstConnect(t *testing.T) {
	s, _ := newTestSession(t, credentials.Static("tok"))

	require.NoError(t, s.On("OrderUpdated", func(...any) {}))
	require.NoError(t, s.Connect(context.Background()))

	err := s.On("ProductUpdated", func(...any) {})
	require.ErrorIs(t, err, ErrHandlersFrozen)

	require.NoError(t, s.Disconnect())
	require.ErrorIs(t, s.On("ProductUpdated", func(...any) {}), ErrHandlersFrozen)
}

func TestSocketSessionNoCredentials(t *testing.T) {
	s, d := newTestSession(t, credentials.Static(""))

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, credentials.ErrNoCredentials)
	require.Equal(t, StateDisconnected, s.State())
	require.Empty(t, d.tokens)
}

func TestSocketSessionFetchesTokenPerAttempt(t *testing.T) {
	var calls int
	src := credentials.SourceFunc(func(context.Context) (string, error) {
		calls++
		return "tok-" + string(rune('0'+calls)), nil
	})
	s, d := newTestSession(t, src)

	require.NoError(t, s.Connect(context.Background()))
	d.last().fire(eventConnect)
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Connect(context.Background()))

	require.Equal(t, []string{"tok-1", "tok-2"}, d.tokens)
}

func TestSocketSessionDialFailure(t *testing.T) {
	s, d := newTestSession(t, credentials.Static("tok"))
	d.err = errors.New("refused")

	err := s.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, StateDisconnected, s.State())
}

func TestSocketSessionConnectError(t *testing.T) {
	s, d := newTestSession(t, credentials.Static("tok"))
	var closes int
	s.OnClose(func(error) { closes++ })

	require.NoError(t, s.Connect(context.Background()))
	d.last().fire(eventConnectError, "unauthorized")

	require.Equal(t, StateDisconnected, s.State())
	require.Equal(t, 1, d.last().closed)
	require.ErrorContains(t, s.CloseErr(), "unauthorized")
	require.Zero(t, closes)
}

func TestSocketSessionUnsolicitedCloseDoesNotReconnect(t *testing.T) {
	s, d := newTestSession(t, credentials.Static("tok"))

	var closeErr error
	s.OnClose(func(err error) { closeErr = err })

	require.NoError(t, s.Connect(context.Background()))
	d.last().fire(eventConnect)
	d.last().fire(eventDisconnect, "transport close")

	require.Equal(t, StateDisconnected, s.State())
	require.ErrorContains(t, closeErr, "transport close")
	require.Equal(t, closeErr, s.CloseErr())
	require.Len(t, d.tokens, 1)

	err := s.Invoke("JoinChatRoom", 1)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSocketSessionRequestedDisconnectIsNotAClose(t *testing.T) {
	s, d := newTestSession(t, credentials.Static("tok"))
	var closes int
	s.OnClose(func(error) { closes++ })

	require.NoError(t, s.Connect(context.Background()))
	conn := d.last()
	conn.fire(eventConnect)
	require.NoError(t, s.Disconnect())

	// The socket reports its own disconnect afterwards.
	conn.fire(eventDisconnect, "io client disconnect")
	require.Zero(t, closes)
	require.NoError(t, s.CloseErr())
}

func TestSocketSessionInvoke(t *testing.T) {
	s, d := newTestSession(t, credentials.Static("tok"))

	require.ErrorIs(t, s.Invoke("JoinChatRoom", 7), ErrNotConnected)

	require.NoError(t, s.Connect(context.Background()))
	require.ErrorIs(t, s.Invoke("JoinChatRoom", 7), ErrNotConnected)

	d.last().fire(eventConnect)
	require.NoError(t, s.Invoke("JoinChatRoom", 7))
	require.Equal(t, []string{"JoinChatRoom"}, d.last().emitted)

	d.last().emitErr = errors.New("write failed")
	require.Error(t, s.Invoke("LeaveChatRoom", 7))
}

func TestSocketSessionHandlerPanicIsContained(t *testing.T) {
	s, d := newTestSession(t, credentials.Static("tok"))

	var got []any
	require.NoError(t, s.On("boom", func(...any) { panic("bad payload") }))
	require.NoError(t, s.On("ok", func(args ...any) { got = append(got, args...) }))
	require.NoError(t, s.Connect(context.Background()))
	d.last().fire(eventConnect)

	require.NotPanics(t, func() { d.last().fire("boom", 1) })
	d.last().fire("ok", 2)
	require.Equal(t, []any{2}, got)
	require.Equal(t, StateConnected, s.State())
}

func TestSocketSessionIgnoresStaleSocketEvents(t *testing.T) {
	s, d := newTestSession(t, credentials.Static("tok"))
	var connects int
	s.OnConnect(func() { connects++ })

	require.NoError(t, s.Connect(context.Background()))
	first := d.last()
	require.NoError(t, s.Disconnect())

	require.NoError(t, s.Connect(context.Background()))
	first.fire(eventConnect)
	require.Equal(t, StateConnecting, s.State())
	require.Zero(t, connects)

	d.last().fire(eventConnect)
	require.Equal(t, StateConnected, s.State())
	require.Equal(t, 1, connects)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "unknown", State(42).String())
}
