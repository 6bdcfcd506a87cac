// Package app owns the long-lived objects of a signed-in client and ties
// their lifecycle to login and logout.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scamazon/storefront/internal/api"
	"github.com/scamazon/storefront/internal/chat"
	"github.com/scamazon/storefront/internal/config"
	"github.com/scamazon/storefront/internal/credentials"
	"github.com/scamazon/storefront/internal/metrics"
	"github.com/scamazon/storefront/internal/notify"
	"github.com/scamazon/storefront/internal/realtime"
	"github.com/scamazon/storefront/pkg/logger"
)

// ManagerFactory builds a connection manager authenticated by source.
type ManagerFactory func(source credentials.Source) (*realtime.Manager, error)

// Session is the explicit owner of the credential store, the REST client and
// the connection manager. The manager is created on first use and torn down
// on login and logout.
type Session struct {
	cfg        *config.Config
	creds      *credentials.Store
	api        *api.Client
	metrics    *metrics.Metrics
	newManager ManagerFactory

	mu      sync.Mutex
	manager *realtime.Manager
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics instruments the manager built by the default factory.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithManagerFactory replaces how the connection manager is built.
func WithManagerFactory(f ManagerFactory) Option {
	return func(s *Session) { s.newManager = f }
}

// New opens the credential store under cfg.HomeDir and builds the REST
// client. No connection is made.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	creds, err := credentials.Open(cfg.HomeDir)
	if err != nil {
		return nil, err
	}
	client, err := api.New(cfg.APIURL, creds, api.WithTimeout(cfg.HTTPTimeout))
	if err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, creds: creds, api: client}
	for _, opt := range opts {
		opt(s)
	}
	if s.newManager == nil {
		s.newManager = func(source credentials.Source) (*realtime.Manager, error) {
			return realtime.New(cfg.Realtime(), source,
				realtime.WithEventBuffer(cfg.EventBuffer),
				realtime.WithMetrics(s.metrics))
		}
	}
	return s, nil
}

// API returns the REST client.
func (s *Session) API() *api.Client { return s.api }

// Credentials returns the credential store.
func (s *Session) Credentials() *credentials.Store { return s.creds }

// Realtime returns the connection manager, creating and starting it on first
// use. A failed connection attempt is logged; the manager is still returned
// so REST-driven flows and later resumes keep working.
func (s *Session) Realtime(ctx context.Context) (*realtime.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		return s.manager, nil
	}
	m, err := s.newManager(s.creds)
	if err != nil {
		return nil, fmt.Errorf("create realtime manager: %w", err)
	}
	s.manager = m
	if err := m.Start(ctx); err != nil {
		logger.Warnf("app: realtime start: %v", err)
	}
	return m, nil
}

// Resume reconnects whatever sessions are disconnected.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	m := s.manager
	s.mu.Unlock()

	if m == nil {
		_, err := s.Realtime(ctx)
		return err
	}
	return m.Start(ctx)
}

// Login stores the credentials, drops any manager bound to the previous
// account and registers the configured push token.
func (s *Session) Login(ctx context.Context, token, role string) error {
	if err := s.creds.Save(token, role); err != nil {
		return err
	}
	s.closeManager()
	s.registerPushToken(ctx)
	return nil
}

func (s *Session) registerPushToken(ctx context.Context) {
	if s.cfg.PushToken == "" {
		logger.Debugf("app: no push token configured")
		return
	}
	if _, err := s.creds.Token(ctx); err != nil {
		logger.Infof("app: push registration skipped: %v", err)
		return
	}
	if err := s.api.RegisterPushToken(ctx, s.cfg.PushToken, s.cfg.DeviceType); err != nil {
		logger.Warnf("app: push registration failed: %v", err)
		return
	}
	logger.Debugf("app: push token registered")
}

// Logout tells the server (best-effort), closes the manager and forgets the
// credentials.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.creds.Token(ctx); err == nil {
		if err := s.api.Logout(ctx); err != nil {
			logger.Warnf("app: server logout failed: %v", err)
		}
	}
	s.closeManager()
	return s.creds.Clear()
}

// Conversation starts a chat consumer bound to the connection manager.
func (s *Session) Conversation(ctx context.Context) (*chat.Conversation, error) {
	m, err := s.Realtime(ctx)
	if err != nil {
		return nil, err
	}
	return chat.NewConversation(s.api, m.Rooms(), m.ChatEvents(),
		chat.WithPageSize(s.cfg.HistoryPageSize),
		chat.WithChatConnects(m.ChatConnects())), nil
}

// Notifications starts a notification feed refreshed by app events.
func (s *Session) Notifications(ctx context.Context) (*notify.Feed, error) {
	m, err := s.Realtime(ctx)
	if err != nil {
		return nil, err
	}
	return notify.NewFeed(s.api, m.AppEvents(), notify.DefaultPageSize), nil
}

// Close releases the manager and the REST client.
func (s *Session) Close() error {
	s.closeManager()
	return s.api.Close()
}

func (s *Session) closeManager() {
	s.mu.Lock()
	m := s.manager
	s.manager = nil
	s.mu.Unlock()

	if m != nil {
		m.Close()
	}
}
