// Package realtime owns the two server sessions of a signed-in client and
// republishes what they push on in-process broadcast streams.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scamazon/storefront/internal/broadcast"
	"github.com/scamazon/storefront/internal/chat"
	"github.com/scamazon/storefront/internal/credentials"
	"github.com/scamazon/storefront/internal/metrics"
	"github.com/scamazon/storefront/internal/transport"
	"github.com/scamazon/storefront/pkg/logger"
)

const (
	appStreamName      = "app_events"
	chatStreamName     = "chat_events"
	connectsStreamName = "chat_connects"

	inboxSize = 64
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("realtime: manager closed")

// Config locates the two hubs.
type Config struct {
	AppHubURL   string
	AppHubPath  string
	ChatHubURL  string
	ChatHubPath string
}

type options struct {
	buffer  int
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*options)

// WithEventBuffer sets the per-subscriber buffer of both streams.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

// WithMetrics records stream, session and decode metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Manager connects the app-events and chat sessions and fans their pushes
// out on AppEvents and ChatEvents.
//
// Socket handlers only decode and hand off: every decoded event goes through
// the manager's inbox and is published by a single pump goroutine.
type Manager struct {
	app     transport.Session
	chat    transport.Session
	rooms   *Rooms
	metrics *metrics.Metrics
	now     func() time.Time

	appEvents  *broadcast.Stream[AppEvent]
	chatEvents *broadcast.Stream[chat.Message]

	// chatConnects fires after each chat connect, once the recorded room
	// has been rejoined.
	chatConnects *broadcast.Stream[struct{}]

	// decode turns a ReceiveMessage payload into a message.
	decode func(payload any) (chat.Message, error)

	inbox chan inbound
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New builds Socket.IO sessions for both hubs, authenticated by source.
func New(cfg Config, source credentials.Source, opts ...Option) (*Manager, error) {
	if cfg.AppHubURL == "" || cfg.ChatHubURL == "" {
		return nil, errors.New("realtime: hub URLs are required")
	}
	if source == nil {
		return nil, errors.New("realtime: credential source is required")
	}

	o := buildOptions(opts)
	app := transport.NewSocketSession(transport.Endpoint{
		Name: "app",
		URL:  cfg.AppHubURL,
		Path: cfg.AppHubPath,
	}, source, transport.WithMetrics(o.metrics))
	chatSession := transport.NewSocketSession(transport.Endpoint{
		Name: "chat",
		URL:  cfg.ChatHubURL,
		Path: cfg.ChatHubPath,
	}, source, transport.WithMetrics(o.metrics))

	return NewWithSessions(app, chatSession, opts...)
}

// NewWithSessions wires handlers onto pre-built sessions. Both sessions must
// still be in their initial Disconnected state.
func NewWithSessions(app, chatSession transport.Session, opts ...Option) (*Manager, error) {
	o := buildOptions(opts)

	m := &Manager{
		app:     app,
		chat:    chatSession,
		rooms:   newRooms(chatSession),
		metrics: o.metrics,
		now:     o.now,
		appEvents: broadcast.New[AppEvent](appStreamName,
			broadcast.WithBuffer[AppEvent](o.buffer),
			broadcast.WithMetrics[AppEvent](o.metrics)),
		chatEvents: broadcast.New[chat.Message](chatStreamName,
			broadcast.WithBuffer[chat.Message](o.buffer),
			broadcast.WithMetrics[chat.Message](o.metrics)),
		chatConnects: broadcast.New[struct{}](connectsStreamName, broadcast.WithBuffer[struct{}](1)),
		decode:       chat.DecodeMessage,
		inbox:        make(chan inbound, inboxSize),
		done:         make(chan struct{}),
	}

	appHandlers := map[string]AppEventKind{
		EventOrderUpdated:        OrderUpdated,
		EventProductUpdated:      ProductUpdated,
		EventReceiveNotification: NotificationReceived,
	}
	for name, kind := range appHandlers {
		if err := app.On(name, m.appHandler(kind)); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	if err := chatSession.On(EventReceiveMessage, m.handleReceiveMessage); err != nil {
		return nil, fmt.Errorf("register %s: %w", EventReceiveMessage, err)
	}

	wireLifecycle(app, nil)
	wireLifecycle(chatSession, func() {
		m.rooms.rejoin()
		m.chatConnects.Publish(struct{}{})
	})

	m.wg.Add(1)
	go m.pump()
	return m, nil
}

func buildOptions(opts []Option) options {
	o := options{buffer: broadcast.DefaultBuffer, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// wireLifecycle logs session closes and runs onConnect after every connect.
func wireLifecycle(s transport.Session, onConnect func()) {
	name := s.Name()
	s.OnClose(func(err error) {
		logger.Warnf("realtime: %s session closed: %v", name, err)
	})
	if onConnect != nil {
		s.OnConnect(onConnect)
	}
}

// AppEvents is the stream of order, product and notification signals.
func (m *Manager) AppEvents() *broadcast.Stream[AppEvent] { return m.appEvents }

// ChatEvents is the stream of every chat message pushed to this client, for
// all rooms.
func (m *Manager) ChatEvents() *broadcast.Stream[chat.Message] { return m.chatEvents }

// ChatConnects fires each time the chat session connects. Consumers whose
// room join was skipped while offline retry on it.
func (m *Manager) ChatConnects() *broadcast.Stream[struct{}] { return m.chatConnects }

// Rooms returns the chat room membership controller.
func (m *Manager) Rooms() *Rooms { return m.rooms }

// AppState returns the app-events session state.
func (m *Manager) AppState() transport.State { return m.app.State() }

// ChatState returns the chat session state.
func (m *Manager) ChatState() transport.State { return m.chat.State() }

// Start connects each session that is Disconnected. The attempts run
// concurrently and a failure of one does not affect the other. Calling Start
// again while a session is connecting or connected does nothing for it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	sessions := []transport.Session{m.app, m.chat}
	errs := make([]error, len(sessions))

	var wg sync.WaitGroup
	for i, s := range sessions {
		if s.State() != transport.StateDisconnected {
			continue
		}
		wg.Add(1)
		go func(i int, s transport.Session) {
			defer wg.Done()
			if err := s.Connect(ctx); err != nil {
				logger.Warnf("realtime: %s connect: %v", s.Name(), err)
				errs[i] = err
			}
		}(i, s)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Stop disconnects each session that is connected or connecting. The room
// record survives so a later Start can rejoin it.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	for _, s := range []transport.Session{m.app, m.chat} {
		switch s.State() {
		case transport.StateConnected, transport.StateConnecting:
			if err := s.Disconnect(); err != nil {
				logger.Warnf("realtime: %s disconnect: %v", s.Name(), err)
			}
		}
	}
}

// Close stops both sessions, the pump and every stream. Subscribers see
// their channels closed. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopLocked()
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()

	m.appEvents.Close()
	m.chatEvents.Close()
	m.chatConnects.Close()
	logger.Debugf("realtime: manager closed")
}

func (m *Manager) appHandler(kind AppEventKind) transport.Handler {
	return func(...any) {
		m.enqueue(appInbound{event: AppEvent{Kind: kind, ReceivedAt: m.now()}})
	}
}

func (m *Manager) handleReceiveMessage(args ...any) {
	if len(args) == 0 {
		m.metrics.Malformed(m.chat.Name(), EventReceiveMessage)
		logger.Warnf("realtime: %s without payload dropped", EventReceiveMessage)
		return
	}

	msg, err := m.decodeSafely(args[0])
	if err != nil {
		m.metrics.Malformed(m.chat.Name(), EventReceiveMessage)
		logger.Warnf("realtime: dropping %s: %v", EventReceiveMessage, err)
		return
	}
	m.enqueue(chatInbound{msg: msg})
}

func (m *Manager) decodeSafely(payload any) (msg chat.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode panicked: %v", r)
		}
	}()
	return m.decode(payload)
}

// enqueue hands an event to the pump. It only waits while the inbox is
// full, and gives up once the manager is closed.
func (m *Manager) enqueue(ev inbound) {
	select {
	case m.inbox <- ev:
	case <-m.done:
	}
}

func (m *Manager) pump() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.inbox:
			m.publish(ev)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) publish(ev inbound) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("realtime: publish panicked: %v", r)
		}
	}()

	switch ev := ev.(type) {
	case appInbound:
		n := m.appEvents.Publish(ev.event)
		logger.Tracef("realtime: %s -> %d subscribers", ev.event.Kind, n)
	case chatInbound:
		n := m.chatEvents.Publish(ev.msg)
		logger.Tracef("realtime: message %d room %d -> %d subscribers", ev.msg.ID, ev.msg.RoomID, n)
	}
}
