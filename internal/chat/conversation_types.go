package chat

import (
	"errors"

	"github.com/scamazon/storefront/internal/actor"
)

var (
	// ErrNoRoom is returned for operations that need an open room.
	ErrNoRoom = errors.New("chat: no room open")

	// ErrSuperseded is returned when a room switch or close overtook the
	// operation before its result could be applied.
	ErrSuperseded = errors.New("chat: superseded by a newer room")

	// ErrInvalidRoom is returned for a non-positive room id.
	ErrInvalidRoom = errors.New("chat: invalid room id")
)

// DefaultPageSize is the history page size used when none is configured.
const DefaultPageSize = 50

// Status is the lifecycle of a Conversation.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusOpening Status = "opening"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
	StatusClosed  Status = "closed"
)

// ConversationState is owned by the conversation actor. Readers get copies;
// the Timeline inside is immutable.
type ConversationState struct {
	// Gen increments on every open, switch and close. Results tagged with an
	// older generation are dropped.
	Gen    int64
	RoomID int64

	// Joined is set once this conversation holds a membership of RoomID on
	// the chat session. Only a held membership is given back on leave.
	Joined bool

	Status   Status
	Timeline Timeline
	// Err is the last failure of an open or history fetch.
	Err error

	PageSize  int
	NextPage  int
	Exhausted bool
	Loading   bool
}

// Commands

type cmdOpen struct {
	actor.InputBase
	StoreID *int64
	Reply   chan error
}

type cmdOpenRoom struct {
	actor.InputBase
	RoomID int64
	Reply  chan error
}

type cmdSend struct {
	actor.InputBase
	Content Content
	Reply   chan error
}

type cmdUploadImage struct {
	actor.InputBase
	FileName string
	Data     []byte
	Reply    chan error
}

type cmdLoadOlder struct {
	actor.InputBase
	Reply chan error
}

type cmdClose struct {
	actor.InputBase
	Reply chan error
}

// Events

type evPushed struct {
	actor.InputBase
	Msg Message
}

type evJoined struct {
	actor.InputBase
	Gen    int64
	RoomID int64
	Err    error
}

// evChatConnected reports a fresh chat session connection.
type evChatConnected struct {
	actor.InputBase
}

type evRoomStarted struct {
	actor.InputBase
	Gen   int64
	Room  Room
	Err   error
	Reply chan error
}

type evHistoryLoaded struct {
	actor.InputBase
	Gen    int64
	RoomID int64
	Page   int
	Msgs   []Message
	Err    error
	Reply  chan error
}

type evSent struct {
	actor.InputBase
	Gen    int64
	RoomID int64
	Msg    Message
	Err    error
	Reply  chan error
}

type evUploaded struct {
	actor.InputBase
	Gen    int64
	RoomID int64
	URL    string
	Err    error
	Reply  chan error
}

// Effects

type effStartChat struct {
	actor.EffectBase
	Gen     int64
	StoreID *int64
	Reply   chan error
}

type effJoinRoom struct {
	actor.EffectBase
	Gen    int64
	RoomID int64
}

type effLeaveRoom struct {
	actor.EffectBase
	RoomID int64
}

type effFetchHistory struct {
	actor.EffectBase
	Gen    int64
	RoomID int64
	Page   int
	Limit  int
	Reply  chan error
}

type effSendMessage struct {
	actor.EffectBase
	Gen     int64
	RoomID  int64
	Content Content
	Reply   chan error
}

type effUploadImage struct {
	actor.EffectBase
	Gen      int64
	RoomID   int64
	FileName string
	Data     []byte
	Reply    chan error
}

type effReply struct {
	actor.EffectBase
	Reply chan error
	Err   error
}
