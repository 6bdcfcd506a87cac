package realtime

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/scamazon/storefront/internal/chat"
	"github.com/scamazon/storefront/internal/transport/transporttest"
	"github.com/stretchr/testify/require"
)

// historyAPI serves empty history and refuses writes.
type historyAPI struct{}

func (historyAPI) StartChat(context.Context, *int64) (chat.Room, error) {
	return chat.Room{}, errors.New("not supported")
}

func (historyAPI) Messages(context.Context, int64, int, int) ([]chat.Message, error) {
	return nil, nil
}

func (historyAPI) SendMessage(context.Context, int64, chat.Content) (chat.Message, error) {
	return chat.Message{}, errors.New("not supported")
}

func (historyAPI) UploadImage(context.Context, string, io.Reader) (string, error) {
	return "", errors.New("not supported")
}

func newConversation(t *testing.T, m *Manager, opts ...chat.ConversationOption) *chat.Conversation {
	t.Helper()
	c := chat.NewConversation(historyAPI{}, m.Rooms(), m.ChatEvents(), opts...)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestConversationWithoutMembershipKeepsOthersJoined(t *testing.T) {
	t.Parallel()

	m, _, chatSession := newTestManager(t)
	ctx := context.Background()

	// Opened while the chat session is offline: the join is skipped.
	x := newConversation(t, m)
	require.NoError(t, x.OpenRoom(ctx, 5))
	require.False(t, x.State().Joined)

	require.NoError(t, m.Start(ctx))
	y := newConversation(t, m)
	require.NoError(t, y.OpenRoom(ctx, 5))
	require.True(t, y.State().Joined)

	require.NoError(t, x.Close(ctx))
	current, ok := m.Rooms().Current()
	require.True(t, ok, "room 5 left while still watched")
	require.Equal(t, int64(5), current)
	require.Equal(t, []transporttest.Invocation{join(5)}, chatSession.Invocations())

	require.NoError(t, y.Close(ctx))
	require.Equal(t, []transporttest.Invocation{join(5), leave(5)}, chatSession.Invocations())
	_, ok = m.Rooms().Current()
	require.False(t, ok)
}

func TestConversationJoinsOnceChatSessionConnects(t *testing.T) {
	t.Parallel()

	m, _, chatSession := newTestManager(t)
	chatSession.Manual = true
	ctx := context.Background()

	// Start returns while the chat session is still connecting.
	require.NoError(t, m.Start(ctx))
	c := newConversation(t, m, chat.WithChatConnects(m.ChatConnects()))
	require.NoError(t, c.OpenRoom(ctx, 5))
	require.False(t, c.State().Joined)
	require.Empty(t, chatSession.Invocations())

	chatSession.Establish()
	require.Eventually(t, func() bool { return c.State().Joined }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []transporttest.Invocation{join(5)}, chatSession.Invocations())

	require.True(t, chatSession.Push(EventReceiveMessage, messagePayload(1, 5)))
	require.Eventually(t, func() bool { return len(c.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
}
