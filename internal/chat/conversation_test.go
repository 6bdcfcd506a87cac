package chat

import (
	"context"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scamazon/storefront/internal/actor"
	"github.com/scamazon/storefront/internal/broadcast"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	room     Room
	startErr error
	pages    map[int64][][]Message
	sent     []Content
	sendResp func(roomID int64, c Content) (Message, error)
	uploads  []string
	block    chan struct{}
}

func (f *fakeAPI) StartChat(ctx context.Context, storeID *int64) (Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.room, f.startErr
}

func (f *fakeAPI) Messages(ctx context.Context, roomID int64, page, limit int) ([]Message, error) {
	f.mu.Lock()
	block := f.block
	pages := f.pages[roomID]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if page-1 < len(pages) {
		return pages[page-1], nil
	}
	return nil, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, roomID int64, c Content) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if f.sendResp != nil {
		return f.sendResp(roomID, c)
	}
	return Message{}, errors.New("no response configured")
}

func (f *fakeAPI) UploadImage(ctx context.Context, fileName string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, fileName+":"+string(data))
	return "https://cdn.test/" + fileName, nil
}

type fakeRooms struct {
	mu      sync.Mutex
	calls   []string
	joinErr error
}

func (f *fakeRooms) Join(roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "join:"+strconv.FormatInt(roomID, 10))
	return f.joinErr
}

func (f *fakeRooms) SetJoinErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinErr = err
}

func (f *fakeRooms) Leave(roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "leave:"+strconv.FormatInt(roomID, 10))
	return nil
}

func (f *fakeRooms) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestConversation(t *testing.T, api *fakeAPI) (*Conversation, *fakeRooms, *broadcast.Stream[Message]) {
	t.Helper()
	rooms := &fakeRooms{}
	events := broadcast.New[Message]("chat_events")
	c := NewConversation(api, rooms, events, WithPageSize(2))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, rooms, events
}

func waitForIDs(t *testing.T, c *Conversation, want []int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Equal(idsOf(c.Messages()), want)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConversationReconcilesExampleScenario(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		room: Room{ID: 1},
		pages: map[int64][][]Message{
			1: {{msgAt(3, 1, 30), msgAt(1, 1, 10)}},
			2: {{msgAt(20, 2, 5)}},
		},
	}
	c, rooms, events := newTestConversation(t, api)
	ctx := context.Background()

	require.NoError(t, c.Open(ctx, nil))
	require.Equal(t, StatusReady, c.State().Status)
	require.Equal(t, []int64{1, 3}, idsOf(c.Messages()))

	events.Publish(msgAt(2, 1, 20))
	waitForIDs(t, c, []int64{1, 2, 3})

	events.Publish(msgAt(2, 1, 20))
	events.Publish(msgAt(99, 7, 15))
	events.Publish(msgAt(4, 1, 40))
	waitForIDs(t, c, []int64{1, 2, 3, 4})

	require.NoError(t, c.OpenRoom(ctx, 2))
	require.Equal(t, []int64{20}, idsOf(c.Messages()))
	require.Equal(t, []string{"join:1", "leave:1", "join:2"}, rooms.Calls())
}

func idsOf(msgs []Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestConversationSendRacesWithPush(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{room: Room{ID: 1}, pages: map[int64][][]Message{}}
	c, _, events := newTestConversation(t, api)
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, nil))

	sentMsg := msgAt(5, 1, 50)
	api.mu.Lock()
	api.sendResp = func(roomID int64, content Content) (Message, error) {
		// The push for the same message overtakes the response.
		events.Publish(sentMsg)
		return sentMsg, nil
	}
	api.mu.Unlock()

	require.NoError(t, c.Send(ctx, "hello"))
	waitForIDs(t, c, []int64{5})
	require.Len(t, c.Messages(), 1)
}

func TestConversationSendFailureSurfaces(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{room: Room{ID: 1}}
	c, _, _ := newTestConversation(t, api)
	ctx := context.Background()

	require.ErrorIs(t, c.Send(ctx, "early"), ErrNoRoom)
	require.NoError(t, c.Open(ctx, nil))
	require.Error(t, c.Send(ctx, "hello"))
	require.Empty(t, c.Messages())
}

func TestConversationOpenFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("server error: 500")
	api := &fakeAPI{startErr: boom}
	c, rooms, _ := newTestConversation(t, api)

	require.ErrorIs(t, c.Open(context.Background(), nil), boom)
	require.Equal(t, StatusFailed, c.State().Status)
	require.Empty(t, rooms.Calls())
}

func TestConversationSwitchDropsStaleHistory(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	api := &fakeAPI{
		pages: map[int64][][]Message{
			1: {{msgAt(1, 1, 10)}},
			2: {{msgAt(2, 2, 20)}},
		},
		block: block,
	}
	c, _, _ := newTestConversation(t, api)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- c.OpenRoom(ctx, 1) }()
	require.Eventually(t, func() bool { return c.State().RoomID == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- c.OpenRoom(ctx, 2) }()
	require.Eventually(t, func() bool { return c.State().RoomID == 2 }, time.Second, 5*time.Millisecond)

	close(block)
	require.ErrorIs(t, <-first, ErrSuperseded)
	require.NoError(t, <-second)
	require.Equal(t, []int64{2}, idsOf(c.Messages()))
}

func TestConversationLoadOlder(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		room: Room{ID: 1},
		pages: map[int64][][]Message{
			1: {
				{msgAt(3, 1, 30), msgAt(4, 1, 40)},
				{msgAt(1, 1, 10), msgAt(2, 1, 20)},
			},
		},
	}
	c, _, _ := newTestConversation(t, api)
	ctx := context.Background()

	require.NoError(t, c.Open(ctx, nil))
	require.NoError(t, c.LoadOlder(ctx))
	require.Equal(t, []int64{1, 2, 3, 4}, idsOf(c.Messages()))

	require.NoError(t, c.LoadOlder(ctx))
	require.True(t, c.State().Exhausted)
	require.Len(t, c.Messages(), 4)
}

func TestConversationUploadImage(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{room: Room{ID: 1}}
	api.sendResp = func(roomID int64, content Content) (Message, error) {
		m := msgAt(6, roomID, 60)
		m.Content = content
		return m, nil
	}
	c, _, _ := newTestConversation(t, api)
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, nil))

	require.NoError(t, c.UploadImage(ctx, "a.png", strings.NewReader("PNG")))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, NewImage("https://cdn.test/a.png"), msgs[0].Content)
	require.Equal(t, []string{"a.png:PNG"}, api.uploads)
}

func TestConversationCloseLeavesRoomAndUnsubscribes(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{room: Room{ID: 3}}
	rooms := &fakeRooms{}
	events := broadcast.New[Message]("chat_events")
	c := NewConversation(api, rooms, events)

	require.NoError(t, c.Open(context.Background(), nil))
	require.Equal(t, 1, events.Subscribers())

	updates := c.Updates()
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	require.Equal(t, []string{"join:3", "leave:3"}, rooms.Calls())
	require.Zero(t, events.Subscribers())

	// The update stream is closed once drained.
	for range updates.C() {
	}
	require.ErrorIs(t, c.Send(context.Background(), "late"), actor.ErrStopped)
}

func TestConversationDoesNotLeaveRoomItNeverJoined(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{pages: map[int64][][]Message{5: {{msgAt(1, 5, 10)}}}}
	c, rooms, _ := newTestConversation(t, api)
	rooms.SetJoinErr(errors.New("chat session connecting"))
	ctx := context.Background()

	require.NoError(t, c.OpenRoom(ctx, 5))
	require.False(t, c.State().Joined)

	require.NoError(t, c.OpenRoom(ctx, 6))
	require.NoError(t, c.Close(ctx))
	require.Equal(t, []string{"join:5", "join:6"}, rooms.Calls())
}

func TestConversationRetriesJoinOnChatConnect(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{pages: map[int64][][]Message{5: {{msgAt(1, 5, 10)}}}}
	rooms := &fakeRooms{joinErr: errors.New("chat session connecting")}
	events := broadcast.New[Message]("chat_events")
	connects := broadcast.New[struct{}]("chat_connects")
	c := NewConversation(api, rooms, events, WithPageSize(2), WithChatConnects(connects))
	ctx := context.Background()

	require.NoError(t, c.OpenRoom(ctx, 5))
	require.False(t, c.State().Joined)

	rooms.SetJoinErr(nil)
	connects.Publish(struct{}{})
	require.Eventually(t, func() bool { return c.State().Joined }, 2*time.Second, 5*time.Millisecond)

	// Further connects leave the held membership alone.
	connects.Publish(struct{}{})
	require.NoError(t, c.Close(ctx))
	require.Equal(t, []string{"join:5", "join:5", "leave:5"}, rooms.Calls())
}
