package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/scamazon/storefront/internal/chat"
	"github.com/scamazon/storefront/pkg/logger"
	"resty.dev/v3"
)

type startChatRequest struct {
	StoreID *int64 `json:"storeId,omitempty"`
}

type sendMessageRequest struct {
	Content     string  `json:"content"`
	MessageType string  `json:"messageType"`
	ImageURL    *string `json:"imageUrl,omitempty"`
}

type messagesPage struct {
	Messages []chat.MessageRecord `json:"messages"`
}

type uploadResult struct {
	URL string `json:"url"`
}

// StartChat creates or resolves the caller's room with a store. A nil
// storeID addresses the default store.
func (c *Client) StartChat(ctx context.Context, storeID *int64) (chat.Room, error) {
	var rec chat.RoomRecord
	err := c.call(ctx, http.MethodPost, "/api/chat/start", func(r *resty.Request) {
		r.SetBody(startChatRequest{StoreID: storeID})
	}, &rec)
	if err != nil {
		return chat.Room{}, err
	}
	if rec.ID <= 0 {
		return chat.Room{}, &Error{Status: http.StatusOK, Message: "start chat returned no room id"}
	}
	return rec.Room(), nil
}

// Conversations lists the caller's rooms.
func (c *Client) Conversations(ctx context.Context) ([]chat.Room, error) {
	return c.rooms(ctx, "/api/chat/conversations")
}

// AllChatRooms lists every room. Admin only.
func (c *Client) AllChatRooms(ctx context.Context) ([]chat.Room, error) {
	return c.rooms(ctx, "/api/admin/chat")
}

func (c *Client) rooms(ctx context.Context, path string) ([]chat.Room, error) {
	var recs []chat.RoomRecord
	if err := c.call(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, err
	}
	rooms := make([]chat.Room, 0, len(recs))
	for _, rec := range recs {
		rooms = append(rooms, rec.Room())
	}
	return rooms, nil
}

// Messages fetches one page of a room's history. Malformed records are
// logged and skipped.
func (c *Client) Messages(ctx context.Context, roomID int64, page, limit int) ([]chat.Message, error) {
	var out messagesPage
	err := c.call(ctx, http.MethodGet, "/api/chat/{id}/messages", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(roomID, 10))
		r.SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(limit),
		})
	}, &out)
	if err != nil {
		return nil, err
	}

	msgs, errs := chat.DecodeMessages(out.Messages)
	for _, err := range errs {
		logger.Warnf("api: room %d history: %v", roomID, err)
	}
	return msgs, nil
}

// SendMessage posts content to a room and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, roomID int64, content chat.Content) (chat.Message, error) {
	body, err := sendBody(content)
	if err != nil {
		return chat.Message{}, err
	}

	var rec chat.MessageRecord
	err = c.call(ctx, http.MethodPost, "/api/chat/{id}/messages", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(roomID, 10))
		r.SetBody(body)
	}, &rec)
	if err != nil {
		return chat.Message{}, err
	}

	msg, err := rec.Message()
	if err != nil {
		return chat.Message{}, &Error{Status: http.StatusOK, Message: err.Error(), Err: err}
	}
	return msg, nil
}

func sendBody(content chat.Content) (sendMessageRequest, error) {
	switch c := content.(type) {
	case chat.Text:
		if strings.TrimSpace(c.Body) == "" {
			return sendMessageRequest{}, invalidContent("message is empty")
		}
		return sendMessageRequest{Content: c.Body, MessageType: string(chat.KindText)}, nil
	case chat.Image:
		if strings.TrimSpace(c.URL) == "" {
			return sendMessageRequest{}, invalidContent("image message has no URL")
		}
		caption := c.Caption
		if caption == "" {
			caption = chat.ImagePlaceholder
		}
		url := c.URL
		return sendMessageRequest{Content: caption, MessageType: string(chat.KindImage), ImageURL: &url}, nil
	default:
		return sendMessageRequest{}, invalidContent(fmt.Sprintf("unsupported content %T", content))
	}
}

// UploadImage uploads an image as multipart field "file" and returns its
// public URL.
func (c *Client) UploadImage(ctx context.Context, fileName string, r io.Reader) (string, error) {
	var out uploadResult
	err := c.call(ctx, http.MethodPost, "/api/upload/image", func(req *resty.Request) {
		req.SetFileReader("file", fileName, r)
	}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", &Error{Status: http.StatusOK, Message: "upload failed: no URL returned"}
	}
	return out.URL, nil
}
