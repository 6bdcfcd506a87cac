// Package notify keeps the signed-in user's notification feed current.
package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/scamazon/storefront/internal/api"
	"github.com/scamazon/storefront/internal/broadcast"
	"github.com/scamazon/storefront/internal/realtime"
	"github.com/scamazon/storefront/pkg/logger"
)

const (
	// DefaultPageSize is the number of notifications loaded per refresh.
	DefaultPageSize = 20

	refreshTimeout = 15 * time.Second
)

// API is the REST surface the feed uses.
type API interface {
	Notifications(ctx context.Context, page, limit int) ([]api.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Feed holds the first page of notifications and reloads it whenever the
// server signals a new one.
type Feed struct {
	api   API
	limit int

	mu        sync.Mutex
	items     []api.Notification
	seq       uint64
	lastError error

	changes *broadcast.Stream[int]

	sub    *broadcast.Subscription[realtime.AppEvent]
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewFeed creates a feed that refreshes on NotificationReceived events.
// events may be nil for a feed that only refreshes on Load.
func NewFeed(a API, events *broadcast.Stream[realtime.AppEvent], limit int) *Feed {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		api:     a,
		limit:   limit,
		changes: broadcast.New[int]("notifications", broadcast.WithBuffer[int](1)),
		cancel:  cancel,
	}
	if events != nil {
		f.sub = events.Subscribe()
		f.wg.Add(1)
		go f.watch(ctx)
	}
	return f
}

func (f *Feed) watch(ctx context.Context) {
	defer f.wg.Done()
	for ev := range f.sub.C() {
		if ev.Kind != realtime.NotificationReceived {
			continue
		}
		loadCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		if err := f.Load(loadCtx); err != nil {
			logger.Warnf("notify: refresh failed: %v", err)
		}
		cancel()
	}
}

// Load replaces the feed with the first page from the server. When loads
// overlap, only the most recently started one is applied.
func (f *Feed) Load(ctx context.Context) error {
	f.mu.Lock()
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	items, err := f.api.Notifications(ctx, 1, f.limit)

	f.mu.Lock()
	if seq != f.seq {
		f.mu.Unlock()
		return nil
	}
	f.lastError = err
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.items = items
	unread := countUnread(items)
	f.mu.Unlock()

	f.changes.Publish(unread)
	return nil
}

// MarkRead marks one notification read on the server, then locally.
func (f *Feed) MarkRead(ctx context.Context, id int64) error {
	if err := f.api.MarkNotificationRead(ctx, id); err != nil {
		f.setLastError(err)
		return err
	}

	f.mu.Lock()
	idx := slices.IndexFunc(f.items, func(n api.Notification) bool { return n.ID == id })
	if idx < 0 {
		f.mu.Unlock()
		return nil
	}
	items := slices.Clone(f.items)
	items[idx].IsRead = true
	f.items = items
	unread := countUnread(items)
	f.mu.Unlock()

	f.changes.Publish(unread)
	return nil
}

// MarkAllRead marks the whole feed read on the server, then locally.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	if err := f.api.MarkAllNotificationsRead(ctx); err != nil {
		f.setLastError(err)
		return err
	}

	f.mu.Lock()
	items := slices.Clone(f.items)
	for i := range items {
		items[i].IsRead = true
	}
	f.items = items
	f.mu.Unlock()

	f.changes.Publish(0)
	return nil
}

// Items returns the current notifications, newest first as served.
func (f *Feed) Items() []api.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.items)
}

// Unread returns the number of unread notifications.
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return countUnread(f.items)
}

// LastError returns the most recent failure, if any.
func (f *Feed) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}

// Changes subscribes to the unread count after every change.
func (f *Feed) Changes() *broadcast.Subscription[int] {
	return f.changes.Subscribe()
}

// Close stops refreshing.
func (f *Feed) Close() {
	f.once.Do(func() {
		f.cancel()
		if f.sub != nil {
			f.sub.Close()
		}
		f.wg.Wait()
		f.changes.Close()
	})
}

func (f *Feed) setLastError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastError = err
}

func countUnread(items []api.Notification) int {
	n := 0
	for _, item := range items {
		if !item.IsRead {
			n++
		}
	}
	return n
}
