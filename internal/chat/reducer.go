package chat

import (
	"github.com/scamazon/storefront/internal/actor"
)

// reduce is the conversation reducer. Every change to the timeline happens
// here, on the actor goroutine.
func reduce(state ConversationState, input actor.Input) (ConversationState, []actor.Effect) {
	switch in := input.(type) {
	case cmdOpen:
		return reduceOpen(state, in)
	case cmdOpenRoom:
		return reduceOpenRoom(state, in)
	case cmdSend:
		return reduceSend(state, in)
	case cmdUploadImage:
		return reduceUploadImage(state, in)
	case cmdLoadOlder:
		return reduceLoadOlder(state, in)
	case cmdClose:
		return reduceClose(state, in)

	case evPushed:
		return reducePushed(state, in)
	case evJoined:
		return reduceJoined(state, in)
	case evChatConnected:
		return reduceChatConnected(state)
	case evRoomStarted:
		return reduceRoomStarted(state, in)
	case evHistoryLoaded:
		return reduceHistoryLoaded(state, in)
	case evSent:
		return reduceSent(state, in)
	case evUploaded:
		return reduceUploaded(state, in)
	default:
		return state, nil
	}
}

// reset discards the current room: its list is dropped and a held
// membership is given back.
func reset(state ConversationState, status Status) (ConversationState, []actor.Effect) {
	var effects []actor.Effect
	if state.Joined && state.RoomID != 0 {
		effects = append(effects, effLeaveRoom{RoomID: state.RoomID})
	}
	state.Gen++
	state.RoomID = 0
	state.Joined = false
	state.Status = status
	state.Timeline = Timeline{}
	state.Err = nil
	state.NextPage = 1
	state.Exhausted = false
	state.Loading = false
	return state, effects
}

func reply(ch chan error, err error) actor.Effect {
	return effReply{Reply: ch, Err: err}
}

func reduceOpen(state ConversationState, in cmdOpen) (ConversationState, []actor.Effect) {
	if state.Status == StatusClosed {
		return state, []actor.Effect{reply(in.Reply, ErrNoRoom)}
	}
	state, effects := reset(state, StatusOpening)
	return state, append(effects, effStartChat{Gen: state.Gen, StoreID: in.StoreID, Reply: in.Reply})
}

func reduceOpenRoom(state ConversationState, in cmdOpenRoom) (ConversationState, []actor.Effect) {
	if in.RoomID <= 0 {
		return state, []actor.Effect{reply(in.Reply, ErrInvalidRoom)}
	}
	if state.Status == StatusClosed {
		return state, []actor.Effect{reply(in.Reply, ErrNoRoom)}
	}
	if in.RoomID == state.RoomID && (state.Status == StatusReady || state.Status == StatusOpening) {
		// Already watching this room; keep the list.
		if !state.Joined {
			return state, []actor.Effect{effJoinRoom{Gen: state.Gen, RoomID: state.RoomID}, reply(in.Reply, nil)}
		}
		return state, []actor.Effect{reply(in.Reply, nil)}
	}

	state, effects := reset(state, StatusOpening)
	state.RoomID = in.RoomID
	return state, append(effects,
		effJoinRoom{Gen: state.Gen, RoomID: in.RoomID},
		effFetchHistory{Gen: state.Gen, RoomID: in.RoomID, Page: 1, Limit: state.PageSize, Reply: in.Reply},
	)
}

func reduceRoomStarted(state ConversationState, ev evRoomStarted) (ConversationState, []actor.Effect) {
	if ev.Gen != state.Gen {
		return state, []actor.Effect{reply(ev.Reply, ErrSuperseded)}
	}
	if ev.Err != nil {
		state.Status = StatusFailed
		state.Err = ev.Err
		return state, []actor.Effect{reply(ev.Reply, ev.Err)}
	}

	state.RoomID = ev.Room.ID
	return state, []actor.Effect{
		effJoinRoom{Gen: state.Gen, RoomID: ev.Room.ID},
		effFetchHistory{Gen: state.Gen, RoomID: ev.Room.ID, Page: 1, Limit: state.PageSize, Reply: ev.Reply},
	}
}

func reduceJoined(state ConversationState, ev evJoined) (ConversationState, []actor.Effect) {
	if ev.Err != nil {
		return state, nil
	}
	if ev.Gen != state.Gen || ev.RoomID != state.RoomID || state.Joined {
		// Not wanted, or already held: give the extra membership back.
		return state, []actor.Effect{effLeaveRoom{RoomID: ev.RoomID}}
	}
	state.Joined = true
	return state, nil
}

// reduceChatConnected retries the join of an open room that could not be
// joined earlier, e.g. because the session was still connecting.
func reduceChatConnected(state ConversationState) (ConversationState, []actor.Effect) {
	if state.RoomID == 0 || state.Joined || state.Status == StatusClosed {
		return state, nil
	}
	return state, []actor.Effect{effJoinRoom{Gen: state.Gen, RoomID: state.RoomID}}
}

func reduceHistoryLoaded(state ConversationState, ev evHistoryLoaded) (ConversationState, []actor.Effect) {
	if ev.Gen != state.Gen || ev.RoomID != state.RoomID {
		return state, []actor.Effect{reply(ev.Reply, ErrSuperseded)}
	}

	if ev.Page > 1 {
		state.Loading = false
	}
	if ev.Err != nil {
		state.Err = ev.Err
		if ev.Page <= 1 {
			state.Status = StatusFailed
		}
		return state, []actor.Effect{reply(ev.Reply, ev.Err)}
	}

	// Pushes for this room that arrived while the first page was in flight
	// are already in the timeline; merging keeps them.
	state.Timeline, _ = state.Timeline.Merge(ev.Msgs)
	state.Err = nil
	state.NextPage = ev.Page + 1
	state.Exhausted = len(ev.Msgs) < state.PageSize
	if ev.Page <= 1 {
		state.Status = StatusReady
	}
	return state, []actor.Effect{reply(ev.Reply, nil)}
}

func reducePushed(state ConversationState, ev evPushed) (ConversationState, []actor.Effect) {
	if state.RoomID == 0 || ev.Msg.RoomID != state.RoomID {
		return state, nil
	}
	state.Timeline, _ = state.Timeline.Insert(ev.Msg)
	return state, nil
}

func reduceSend(state ConversationState, in cmdSend) (ConversationState, []actor.Effect) {
	if state.RoomID == 0 || state.Status == StatusClosed {
		return state, []actor.Effect{reply(in.Reply, ErrNoRoom)}
	}
	return state, []actor.Effect{effSendMessage{
		Gen:     state.Gen,
		RoomID:  state.RoomID,
		Content: in.Content,
		Reply:   in.Reply,
	}}
}

func reduceSent(state ConversationState, ev evSent) (ConversationState, []actor.Effect) {
	if ev.Err != nil {
		return state, []actor.Effect{reply(ev.Reply, ev.Err)}
	}
	// The message was stored either way; only the current room's list takes
	// it.
	if ev.Gen == state.Gen && ev.RoomID == state.RoomID && ev.Msg.RoomID == state.RoomID {
		state.Timeline, _ = state.Timeline.Insert(ev.Msg)
	}
	return state, []actor.Effect{reply(ev.Reply, nil)}
}

func reduceUploadImage(state ConversationState, in cmdUploadImage) (ConversationState, []actor.Effect) {
	if state.RoomID == 0 || state.Status == StatusClosed {
		return state, []actor.Effect{reply(in.Reply, ErrNoRoom)}
	}
	return state, []actor.Effect{effUploadImage{
		Gen:      state.Gen,
		RoomID:   state.RoomID,
		FileName: in.FileName,
		Data:     in.Data,
		Reply:    in.Reply,
	}}
}

func reduceUploaded(state ConversationState, ev evUploaded) (ConversationState, []actor.Effect) {
	if ev.Err != nil {
		return state, []actor.Effect{reply(ev.Reply, ev.Err)}
	}
	if ev.Gen != state.Gen || ev.RoomID != state.RoomID {
		return state, []actor.Effect{reply(ev.Reply, ErrSuperseded)}
	}
	return state, []actor.Effect{effSendMessage{
		Gen:     state.Gen,
		RoomID:  state.RoomID,
		Content: NewImage(ev.URL),
		Reply:   ev.Reply,
	}}
}

func reduceLoadOlder(state ConversationState, in cmdLoadOlder) (ConversationState, []actor.Effect) {
	if state.RoomID == 0 || state.Status != StatusReady {
		return state, []actor.Effect{reply(in.Reply, ErrNoRoom)}
	}
	if state.Loading || state.Exhausted {
		return state, []actor.Effect{reply(in.Reply, nil)}
	}
	state.Loading = true
	return state, []actor.Effect{effFetchHistory{
		Gen:    state.Gen,
		RoomID: state.RoomID,
		Page:   state.NextPage,
		Limit:  state.PageSize,
		Reply:  in.Reply,
	}}
}

func reduceClose(state ConversationState, in cmdClose) (ConversationState, []actor.Effect) {
	if state.Status == StatusClosed {
		return state, []actor.Effect{reply(in.Reply, nil)}
	}
	state, effects := reset(state, StatusClosed)
	return state, append(effects, reply(in.Reply, nil))
}
