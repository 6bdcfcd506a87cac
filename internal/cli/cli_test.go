package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scamazon/storefront/internal/api"
	"github.com/scamazon/storefront/internal/app"
	"github.com/scamazon/storefront/internal/chat"
	"github.com/scamazon/storefront/internal/config"
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
	var data any
	switch r.URL.Path {
	case "/api/chat/conversations":
		data = []map[string]any{{"id": 3, "storeId": 1, "customerId": 9, "storeName": "Main", "unreadCount": 2}}
	case "/api/admin/chat":
		data = []map[string]any{
			{"id": 3, "storeId": 1, "customerId": 9, "storeName": "Main", "customerName": "Ana"},
			{"id": 4, "storeId": 1, "customerId": 10, "storeName": "Main", "customerName": "Bo"},
		}
	case "/api/notifications":
		data = []map[string]any{{"id": 1, "title": "Order shipped", "isRead": false}}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func (b *backend) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

func newEnv(t *testing.T) (Env, *bytes.Buffer, *backend) {
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
	}
	s, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	out := &bytes.Buffer{}
	return Env{Session: s, In: strings.NewReader(""), Out: out}, out, b
}

func TestLoginRequiresToken(t *testing.T) {
	env, _, _ := newEnv(t)

	err := LoginCommand(context.Background(), env, nil)
	require.ErrorContains(t, err, "-token is required")
}

func TestRoomsUsesRoleSpecificEndpoint(t *testing.T) {
	env, out, b := newEnv(t)
	ctx := context.Background()

	require.NoError(t, env.Session.Credentials().Save("tok", "customer"))
	require.NoError(t, RoomsCommand(ctx, env))
	require.Contains(t, out.String(), "Main")
	require.Contains(t, out.String(), "(2 unread)")

	out.Reset()
	require.NoError(t, env.Session.Credentials().Save("tok", "admin"))
	require.NoError(t, RoomsCommand(ctx, env))
	require.Contains(t, out.String(), "Ana / Main")
	require.Contains(t, out.String(), "Bo / Main")

	require.Equal(t, []string{"GET /api/chat/conversations", "GET /api/admin/chat"}, b.Paths())
}

func TestRoomsWithoutCredentials(t *testing.T) {
	env, _, b := newEnv(t)

	err := RoomsCommand(context.Background(), env)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Empty(t, b.Paths())
}

func TestRoomCommandValidatesID(t *testing.T) {
	env, _, _ := newEnv(t)

	require.Error(t, RoomCommand(context.Background(), env, nil))
	require.ErrorContains(t, RoomCommand(context.Background(), env, []string{"0"}), "invalid room id")
	require.ErrorContains(t, RoomCommand(context.Background(), env, []string{"abc"}), "invalid room id")
}

func TestHandoffPrintsLink(t *testing.T) {
	env, out, _ := newEnv(t)

	require.NoError(t, HandoffCommand(env, []string{"-store", "7"}))
	require.Contains(t, out.String(), "scamazon://chat?storeId=7")
	require.Equal(t, "scamazon://chat", handoffLink(0))
}

func TestFormatMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	got := formatMessage(chat.Message{
		ID: 1, SenderID: 9, SenderName: "Ana", SenderRole: "customer",
		Content: chat.Text{Body: "hi"}, CreatedAt: ts,
	})
	require.True(t, strings.HasSuffix(got, "Ana (customer): hi"), got)

	got = formatMessage(chat.Message{ID: 2, SenderID: 9, Content: chat.NewImage("http://x/y.png"), CreatedAt: ts})
	require.Contains(t, got, "#9: ")
	require.Contains(t, got, "<http://x/y.png>")
}

func TestFormatNotificationMarksUnread(t *testing.T) {
	require.True(t, strings.HasPrefix(formatNotification(api.Notification{ID: 1, Title: "a"}), "*"))
	require.True(t, strings.HasPrefix(formatNotification(api.Notification{ID: 1, Title: "a", IsRead: true}), " "))
}

func TestPrinterWritesEachMessageOnce(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)

	m1 := chat.Message{ID: 1, Content: chat.Text{Body: "one"}}
	m2 := chat.Message{ID: 2, Content: chat.Text{Body: "two"}}
	p.print([]chat.Message{m1})
	p.print([]chat.Message{m1, m2})

	require.Equal(t, 1, strings.Count(buf.String(), "one"))
	require.Equal(t, 1, strings.Count(buf.String(), "two"))
}

func TestHandleLineCommands(t *testing.T) {
	quit, err := handleLine(context.Background(), nil, "  /quit ")
	require.NoError(t, err)
	require.True(t, quit)

	quit, err = handleLine(context.Background(), nil, "")
	require.NoError(t, err)
	require.False(t, quit)

	_, err = handleLine(context.Background(), nil, "/image")
	require.ErrorContains(t, err, "usage: /image")

	_, err = handleLine(context.Background(), nil, "/upload")
	require.ErrorContains(t, err, "usage: /upload")
}
