package chat

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/scamazon/storefront/internal/actor"
	"github.com/scamazon/storefront/pkg/logger"
)

// API is the REST surface a conversation needs.
type API interface {
	StartChat(ctx context.Context, storeID *int64) (Room, error)
	Messages(ctx context.Context, roomID int64, page, limit int) ([]Message, error)
	SendMessage(ctx context.Context, roomID int64, content Content) (Message, error)
	UploadImage(ctx context.Context, fileName string, r io.Reader) (string, error)
}

// Membership joins and leaves rooms on the chat session.
type Membership interface {
	Join(roomID int64) error
	Leave(roomID int64) error
}

// runtime executes conversation effects. Membership changes run inline so
// a leave and the following join keep their order; REST calls run on their
// own goroutines and report back through emit.
type runtime struct {
	api   API
	rooms Membership

	wg sync.WaitGroup
}

func newRuntime(api API, rooms Membership) *runtime {
	return &runtime{api: api, rooms: rooms}
}

// HandleEffects implements actor.Runtime.
func (r *runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case effJoinRoom:
			err := r.rooms.Join(e.RoomID)
			if err != nil {
				// History and sends still work over REST.
				logger.Warnf("chat: join room %d: %v", e.RoomID, err)
			}
			emit(evJoined{Gen: e.Gen, RoomID: e.RoomID, Err: err})
		case effLeaveRoom:
			if err := r.rooms.Leave(e.RoomID); err != nil {
				logger.Warnf("chat: leave room %d: %v", e.RoomID, err)
			}
		case effReply:
			if e.Reply != nil {
				select {
				case e.Reply <- e.Err:
				default:
				}
			}
		case effStartChat:
			r.async(ctx, func() {
				room, err := r.api.StartChat(ctx, e.StoreID)
				if err == nil && room.ID <= 0 {
					err = ErrInvalidRoom
				}
				emit(evRoomStarted{Gen: e.Gen, Room: room, Err: err, Reply: e.Reply})
			})
		case effFetchHistory:
			r.async(ctx, func() {
				msgs, err := r.api.Messages(ctx, e.RoomID, e.Page, e.Limit)
				emit(evHistoryLoaded{Gen: e.Gen, RoomID: e.RoomID, Page: e.Page, Msgs: msgs, Err: err, Reply: e.Reply})
			})
		case effSendMessage:
			r.async(ctx, func() {
				msg, err := r.api.SendMessage(ctx, e.RoomID, e.Content)
				emit(evSent{Gen: e.Gen, RoomID: e.RoomID, Msg: msg, Err: err, Reply: e.Reply})
			})
		case effUploadImage:
			r.async(ctx, func() {
				url, err := r.api.UploadImage(ctx, e.FileName, bytes.NewReader(e.Data))
				emit(evUploaded{Gen: e.Gen, RoomID: e.RoomID, URL: url, Err: err, Reply: e.Reply})
			})
		default:
			logger.Warnf("chat: unknown effect %T", eff)
		}
	}
}

func (r *runtime) async(ctx context.Context, fn func()) {
	if ctx.Err() != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("chat: effect panicked: %v", rec)
			}
		}()
		fn()
	}()
}

// Stop waits for in-flight calls, which observe the canceled actor context.
func (r *runtime) Stop() {
	r.wg.Wait()
}
