package chat

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/scamazon/storefront/internal/actor"
	"github.com/scamazon/storefront/internal/broadcast"
	"github.com/scamazon/storefront/pkg/logger"
)

// Conversation is one consumer's view of a chat room: it merges REST history
// and live pushes into a single deduplicated, ordered Timeline.
//
// All mutation goes through an actor, so pushes and REST completions for the
// same conversation never race.
type Conversation struct {
	actor    *actor.Actor[ConversationState]
	sub      *broadcast.Subscription[Message]
	connects *broadcast.Subscription[struct{}]
	updates  *broadcast.Stream[ConversationState]

	forwarded sync.WaitGroup
	closeOnce sync.Once
}

type conversationOptions struct {
	pageSize int
	connects *broadcast.Stream[struct{}]
}

// ConversationOption configures a Conversation.
type ConversationOption func(*conversationOptions)

// WithPageSize sets the history page size.
func WithPageSize(n int) ConversationOption {
	return func(o *conversationOptions) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithChatConnects retries the join of the open room each time connects
// fires. Rooms cannot be joined while the chat session is still connecting.
func WithChatConnects(connects *broadcast.Stream[struct{}]) ConversationOption {
	return func(o *conversationOptions) { o.connects = connects }
}

// NewConversation starts a conversation consuming pushes from events. Close
// must be called to detach it.
func NewConversation(api API, rooms Membership, events *broadcast.Stream[Message], opts ...ConversationOption) *Conversation {
	o := conversationOptions{pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Conversation{
		// Buffer 1 with drop-oldest: subscribers always converge on the
		// latest state.
		updates: broadcast.New[ConversationState]("conversation", broadcast.WithBuffer[ConversationState](1)),
	}

	initial := ConversationState{Status: StatusIdle, PageSize: o.pageSize, NextPage: 1}
	c.actor = actor.New(initial, reduce, newRuntime(api, rooms),
		actor.WithHooks(actor.Hooks[ConversationState]{
			OnTransition: func(prev, next ConversationState, _ actor.Input) {
				if prev.Gen != next.Gen || prev.Status != next.Status ||
					prev.Timeline.Len() != next.Timeline.Len() || (prev.Err == nil) != (next.Err == nil) {
					c.updates.Publish(next)
				}
			},
			OnPanic: func(input actor.Input, recovered any) {
				logger.Errorf("chat: %T panicked: %v", input, recovered)
			},
		}),
	)
	c.actor.Start()

	c.sub = events.Subscribe()
	c.forwarded.Add(1)
	go c.forward()

	if o.connects != nil {
		c.connects = o.connects.Subscribe()
		c.forwarded.Add(1)
		go c.forwardConnects()
	}
	return c
}

func (c *Conversation) forward() {
	defer c.forwarded.Done()
	ctx := c.actor.Context()
	for msg := range c.sub.C() {
		if err := c.actor.Send(ctx, evPushed{Msg: msg}); err != nil {
			return
		}
	}
}

func (c *Conversation) forwardConnects() {
	defer c.forwarded.Done()
	ctx := c.actor.Context()
	for range c.connects.C() {
		if err := c.actor.Send(ctx, evChatConnected{}); err != nil {
			return
		}
	}
}

// Open resolves the caller's room with storeID (nil for the default store),
// joins it and loads the first history page. Any previously open room is
// left and its list discarded.
func (c *Conversation) Open(ctx context.Context, storeID *int64) error {
	return c.request(ctx, func(reply chan error) actor.Input {
		return cmdOpen{StoreID: storeID, Reply: reply}
	})
}

// OpenRoom switches to an existing room by id. Opening the room that is
// already open keeps its list.
func (c *Conversation) OpenRoom(ctx context.Context, roomID int64) error {
	return c.request(ctx, func(reply chan error) actor.Input {
		return cmdOpenRoom{RoomID: roomID, Reply: reply}
	})
}

// Send posts a text message to the open room.
func (c *Conversation) Send(ctx context.Context, text string) error {
	return c.SendContent(ctx, Text{Body: text})
}

// SendImage posts an already uploaded image to the open room.
func (c *Conversation) SendImage(ctx context.Context, url string) error {
	return c.SendContent(ctx, NewImage(url))
}

// SendContent posts content to the open room. The stored message is merged
// into the timeline; a push of the same message is then a no-op.
func (c *Conversation) SendContent(ctx context.Context, content Content) error {
	return c.request(ctx, func(reply chan error) actor.Input {
		return cmdSend{Content: content, Reply: reply}
	})
}

// UploadImage uploads r and sends it as an image message to the room that
// was open when the call was made.
func (c *Conversation) UploadImage(ctx context.Context, fileName string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return c.request(ctx, func(reply chan error) actor.Input {
		return cmdUploadImage{FileName: fileName, Data: data, Reply: reply}
	})
}

// LoadOlder fetches the next history page. It returns nil without a request
// when the history is exhausted or a page is already loading.
func (c *Conversation) LoadOlder(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) actor.Input {
		return cmdLoadOlder{Reply: reply}
	})
}

// State returns the current state.
func (c *Conversation) State() ConversationState {
	return c.actor.State()
}

// Messages returns the current reconciled list.
func (c *Conversation) Messages() []Message {
	return c.actor.State().Timeline.Messages()
}

// Updates subscribes to state changes. Only the latest state is buffered.
func (c *Conversation) Updates() *broadcast.Subscription[ConversationState] {
	return c.updates.Subscribe()
}

// Close detaches from the push stream, leaves the room and stops the actor.
// Results of calls still in flight are discarded.
func (c *Conversation) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.sub.Close()
		if c.connects != nil {
			c.connects.Close()
		}
		err = c.request(ctx, func(reply chan error) actor.Input {
			return cmdClose{Reply: reply}
		})
		c.actor.Stop()
		c.forwarded.Wait()
		c.updates.Close()
	})
	return err
}

func (c *Conversation) request(ctx context.Context, build func(reply chan error) actor.Input) error {
	reply := make(chan error, 1)
	if err := c.actor.Send(ctx, build(reply)); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.actor.Done():
		return actor.ErrStopped
	}
}
