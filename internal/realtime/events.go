package realtime

import (
	"time"

	"github.com/scamazon/storefront/internal/chat"
)

// Server-pushed event names.
const (
	EventOrderUpdated        = "OrderUpdated"
	EventProductUpdated      = "ProductUpdated"
	EventReceiveNotification = "ReceiveNotification"
	EventReceiveMessage      = "ReceiveMessage"
)

// Remote calls on the chat endpoint.
const (
	MethodJoinChatRoom  = "JoinChatRoom"
	MethodLeaveChatRoom = "LeaveChatRoom"
)

// AppEventKind tags an app-level server event.
type AppEventKind int

const (
	OrderUpdated AppEventKind = iota + 1
	ProductUpdated
	NotificationReceived
)

// String returns the server event name the kind was decoded from.
func (k AppEventKind) String() string {
	switch k {
	case OrderUpdated:
		return EventOrderUpdated
	case ProductUpdated:
		return EventProductUpdated
	case NotificationReceived:
		return EventReceiveNotification
	default:
		return "unknown"
	}
}

// AppEvent is published on the AppEvents stream. It carries only its tag;
// consumers refetch whatever the event invalidates.
type AppEvent struct {
	Kind       AppEventKind
	ReceivedAt time.Time
}

// inbound is what socket handlers hand to the manager pump.
type inbound interface {
	isInbound()
}

type appInbound struct {
	event AppEvent
}

type chatInbound struct {
	msg chat.Message
}

func (appInbound) isInbound()  {}
func (chatInbound) isInbound() {}
