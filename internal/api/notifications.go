package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/scamazon/storefront/internal/chat"
	"resty.dev/v3"
)

// Notification is one entry of the user's notification feed.
type Notification struct {
	ID        int64
	Title     string
	Message   string
	Type      string
	IsRead    bool
	CreatedAt time.Time
}

type notificationRecord struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

func (r notificationRecord) notification() Notification {
	n := Notification{
		ID:      r.ID,
		Title:   r.Title,
		Message: r.Message,
		Type:    r.Type,
		IsRead:  r.IsRead,
	}
	if ts, err := chat.ParseTimestamp(r.CreatedAt); err == nil {
		n.CreatedAt = ts
	}
	return n
}

// Notifications fetches one page of the feed.
func (c *Client) Notifications(ctx context.Context, page, limit int) ([]Notification, error) {
	var recs []notificationRecord
	err := c.call(ctx, http.MethodGet, "/api/notifications", func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(limit),
		})
	}, &recs)
	if err != nil {
		return nil, err
	}

	out := make([]Notification, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.notification())
	}
	return out, nil
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodPut, "/api/notifications/{id}/read", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(id, 10))
	}, nil)
}

// MarkAllNotificationsRead marks the whole feed read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.call(ctx, http.MethodPut, "/api/notifications/read-all", nil, nil)
}
