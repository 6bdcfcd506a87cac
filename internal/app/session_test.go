package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/scamazon/storefront/internal/config"
	"github.com/scamazon/storefront/internal/credentials"
	"github.com/scamazon/storefront/internal/realtime"
	"github.com/scamazon/storefront/internal/transport"
	"github.com/scamazon/storefront/internal/transport/transporttest"
	"github.com/stretchr/testify/require"
)

type backend struct {
	mu    sync.Mutex
	paths []string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.paths = append(b.paths, r.Method+" "+r.URL.Path)
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
}

func (b *backend) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

type fakes struct {
	mu       sync.Mutex
	built    int
	sessions []*transporttest.FakeSession
}

func (f *fakes) factory(credentials.Source) (*realtime.Manager, error) {
	app := transporttest.NewFakeSession("app")
	chatSession := transporttest.NewFakeSession("chat")
	f.mu.Lock()
	f.built++
	f.sessions = append(f.sessions, app, chatSession)
	f.mu.Unlock()
	return realtime.NewWithSessions(app, chatSession)
}

func newTestSession(t *testing.T, pushToken string) (*Session, *backend, *fakes) {
	t.Helper()

	b := &backend{}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		APIURL:          srv.URL,
		HomeDir:         t.TempDir(),
		HTTPTimeout:     5 * time.Second,
		HistoryPageSize: 20,
		EventBuffer:     4,
		PushToken:       pushToken,
		DeviceType:      "android",
	}
	f := &fakes{}
	s, err := New(cfg, WithManagerFactory(f.factory))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, b, f
}

func TestRealtimeIsCreatedOnceAndStarted(t *testing.T) {
	s, _, f := newTestSession(t, "")

	m1, err := s.Realtime(context.Background())
	require.NoError(t, err)
	m2, err := s.Realtime(context.Background())
	require.NoError(t, err)

	require.Same(t, m1, m2)
	require.Equal(t, 1, f.built)
	require.Equal(t, transport.StateConnected, m1.AppState())
	require.Equal(t, transport.StateConnected, m1.ChatState())
}

func TestResumeReconnectsDroppedSession(t *testing.T) {
	s, _, f := newTestSession(t, "")

	m, err := s.Realtime(context.Background())
	require.NoError(t, err)
	chatSession := f.sessions[1]
	chatSession.Drop(nil)
	require.Equal(t, transport.StateDisconnected, m.ChatState())

	require.NoError(t, s.Resume(context.Background()))
	require.Equal(t, transport.StateConnected, m.ChatState())
	require.Equal(t, 2, chatSession.ConnectCalls())
	require.Equal(t, 1, f.sessions[0].ConnectCalls())
}

func TestLoginRegistersPushTokenAndResetsManager(t *testing.T) {
	s, b, f := newTestSession(t, "push-123")

	old, err := s.Realtime(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Login(context.Background(), "tok", "customer"))
	require.Equal(t, []string{"POST /api/auth/fcm-token"}, b.Paths())
	require.ErrorIs(t, old.Start(context.Background()), realtime.ErrClosed)

	fresh, err := s.Realtime(context.Background())
	require.NoError(t, err)
	require.NotSame(t, old, fresh)
	require.Equal(t, 2, f.built)
	require.Equal(t, "customer", s.Credentials().Role())
}

func TestLoginWithoutPushToken(t *testing.T) {
	s, b, _ := newTestSession(t, "")
	require.NoError(t, s.Login(context.Background(), "tok", "admin"))
	require.Empty(t, b.Paths())
}

func TestLogoutClearsEverything(t *testing.T) {
	s, b, _ := newTestSession(t, "")
	require.NoError(t, s.Login(context.Background(), "tok", "customer"))

	m, err := s.Realtime(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Logout(context.Background()))
	require.Equal(t, []string{"POST /api/auth/logout"}, b.Paths())
	require.ErrorIs(t, m.Start(context.Background()), realtime.ErrClosed)

	_, err = s.Credentials().Token(context.Background())
	require.ErrorIs(t, err, credentials.ErrNoCredentials)
}

func TestLogoutWithoutCredentialsSkipsServer(t *testing.T) {
	s, b, _ := newTestSession(t, "")
	require.NoError(t, s.Logout(context.Background()))
	require.Empty(t, b.Paths())
}

func TestConversationAndFeedUseManagerStreams(t *testing.T) {
	s, _, _ := newTestSession(t, "")
	ctx := context.Background()

	m, err := s.Realtime(ctx)
	require.NoError(t, err)

	conv, err := s.Conversation(ctx)
	require.NoError(t, err)
	defer conv.Close(ctx)
	require.Equal(t, 1, m.ChatEvents().Subscribers())

	feed, err := s.Notifications(ctx)
	require.NoError(t, err)
	defer feed.Close()
	require.Equal(t, 1, m.AppEvents().Subscribers())
}
