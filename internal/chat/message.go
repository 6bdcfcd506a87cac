// Package chat holds the chat message model, the per-room message timeline
// and the Conversation consumer that reconciles REST history with pushed
// messages.
package chat

import (
	"fmt"
	"time"
)

// Role is the sender role attached to a message by the server.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleStore    Role = "store"
)

// Kind is the explicit content kind of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// ImagePlaceholder is the caption sent in the content field of image
// messages. Clients without image rendering show it instead of the image.
const ImagePlaceholder = "📷 Ảnh"

// Content is the tagged payload of a message: exactly one of Text or Image.
type Content interface {
	Kind() Kind
	isContent()
}

// Text is a plain text message body.
type Text struct {
	Body string
}

// Kind implements Content.
func (Text) Kind() Kind { return KindText }
func (Text) isContent() {}

// Image is an uploaded image with the caption carried in the content field.
type Image struct {
	URL     string
	Caption string
}

// Kind implements Content.
func (Image) Kind() Kind { return KindImage }
func (Image) isContent() {}

// NewImage returns image content with the standard placeholder caption.
func NewImage(url string) Image {
	return Image{URL: url, Caption: ImagePlaceholder}
}

// Message is one server-assigned chat message.
type Message struct {
	// ID is assigned by the server and unique within a room.
	ID         int64
	RoomID     int64
	SenderID   int64
	SenderName string
	SenderRole Role
	Content    Content
	IsRead     bool
	CreatedAt  time.Time
}

// Kind returns the content kind, defaulting to text for empty content.
func (m Message) Kind() Kind {
	if m.Content == nil {
		return KindText
	}
	return m.Content.Kind()
}

// Summary returns a one-line rendering suitable for logs and terminals.
func (m Message) Summary() string {
	switch c := m.Content.(type) {
	case Text:
		return c.Body
	case Image:
		return fmt.Sprintf("%s <%s>", c.Caption, c.URL)
	default:
		return ""
	}
}

// Room is a chat room as returned by the REST API.
type Room struct {
	ID            int64
	StoreID       int64
	CustomerID    int64
	CustomerName  string
	StoreName     string
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
}
