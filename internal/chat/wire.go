package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedMessage wraps every decoding failure for inbound messages.
var ErrMalformedMessage = errors.New("malformed chat message")

// MessageRecord is the JSON shape of a message on the wire, both in REST
// responses and in ReceiveMessage pushes.
type MessageRecord struct {
	ID          int64   `json:"id"`
	ChatRoomID  int64   `json:"chatRoomId"`
	SenderID    int64   `json:"senderId"`
	SenderName  string  `json:"senderName,omitempty"`
	SenderRole  string  `json:"senderRole,omitempty"`
	Content     *string `json:"content"`
	MessageType string  `json:"messageType,omitempty"`
	ImageURL    *string `json:"imageUrl"`
	IsRead      bool    `json:"isRead"`
	CreatedAt   string  `json:"createdAt"`
}

// RoomRecord is the JSON shape of a room summary.
type RoomRecord struct {
	ID            int64  `json:"id"`
	StoreID       int64  `json:"storeId"`
	CustomerID    int64  `json:"customerId"`
	CustomerName  string `json:"customerName,omitempty"`
	StoreName     string `json:"storeName,omitempty"`
	LastMessage   string `json:"lastMessage,omitempty"`
	LastMessageAt string `json:"lastMessageAt,omitempty"`
	UnreadCount   int    `json:"unreadCount"`
}

// Message validates the record and converts it to a Message.
func (r MessageRecord) Message() (Message, error) {
	if r.ID <= 0 {
		return Message{}, fmt.Errorf("%w: missing id", ErrMalformedMessage)
	}
	if r.ChatRoomID <= 0 {
		return Message{}, fmt.Errorf("%w: message %d has no room id", ErrMalformedMessage, r.ID)
	}
	createdAt, err := ParseTimestamp(r.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("%w: message %d: %v", ErrMalformedMessage, r.ID, err)
	}
	content, err := r.content()
	if err != nil {
		return Message{}, fmt.Errorf("%w: message %d: %v", ErrMalformedMessage, r.ID, err)
	}
	return Message{
		ID:         r.ID,
		RoomID:     r.ChatRoomID,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		SenderRole: Role(strings.ToLower(r.SenderRole)),
		Content:    content,
		IsRead:     r.IsRead,
		CreatedAt:  createdAt,
	}, nil
}

func (r MessageRecord) content() (Content, error) {
	text := deref(r.Content)
	url := strings.TrimSpace(deref(r.ImageURL))

	switch Kind(strings.ToLower(r.MessageType)) {
	case KindImage:
		if url == "" {
			return nil, errors.New("image message without image url")
		}
		return Image{URL: url, Caption: text}, nil
	case KindText:
		return Text{Body: text}, nil
	case "":
		// Older servers omit messageType; an image url is the only signal.
		if url != "" {
			return Image{URL: url, Caption: text}, nil
		}
		return Text{Body: text}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", r.MessageType)
	}
}

// Room converts the record to a Room. Unparseable timestamps are left zero.
func (r RoomRecord) Room() Room {
	room := Room{
		ID:           r.ID,
		StoreID:      r.StoreID,
		CustomerID:   r.CustomerID,
		CustomerName: r.CustomerName,
		StoreName:    r.StoreName,
		LastMessage:  r.LastMessage,
		UnreadCount:  r.UnreadCount,
	}
	if ts, err := ParseTimestamp(r.LastMessageAt); err == nil {
		room.LastMessageAt = ts
	}
	return room
}

// DecodeMessage decodes a pushed ReceiveMessage payload. The payload is
// whatever the transport produced for the first event argument: a decoded
// JSON object, raw JSON bytes or a string.
func DecodeMessage(payload any) (Message, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case string:
		raw = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		raw = encoded
	}

	var rec MessageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return rec.Message()
}

// DecodeMessages converts a page of records, skipping (and reporting) the
// malformed ones.
func DecodeMessages(records []MessageRecord) ([]Message, []error) {
	out := make([]Message, 0, len(records))
	var errs []error
	for _, rec := range records {
		msg, err := rec.Message()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, msg)
	}
	return out, errs
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the server's creation timestamps. Values without a
// zone are taken as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
