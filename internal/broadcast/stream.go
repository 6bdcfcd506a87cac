// Package broadcast implements the in-process one-to-many event streams the
// connection manager republishes server pushes on.
//
// Delivery is best-effort and live: Publish never blocks, a subscriber only
// sees events published after it attached, and each subscriber owns a
// bounded buffer. When a subscriber's buffer is full the oldest buffered
// event is evicted to make room for the new one.
package broadcast

import (
	"sync"

	"github.com/scamazon/storefront/internal/metrics"
	"github.com/scamazon/storefront/pkg/logger"
)

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 10

// Stream fans each published value out to every attached subscriber.
type Stream[T any] struct {
	name    string
	buffer  int
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// Option configures a Stream.
type Option[T any] func(*Stream[T])

// WithBuffer sets the per-subscriber buffer bound.
func WithBuffer[T any](n int) Option[T] {
	return func(s *Stream[T]) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithMetrics records publish/drop counts under the stream name.
func WithMetrics[T any](m *metrics.Metrics) Option[T] {
	return func(s *Stream[T]) { s.metrics = m }
}

// New creates an open stream. The name labels logs and metrics.
func New[T any](name string, opts ...Option[T]) *Stream[T] {
	s := &Stream[T]{
		name:   name,
		buffer: DefaultBuffer,
		subs:   make(map[uint64]*Subscription[T]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the stream label.
func (s *Stream[T]) Name() string { return s.name }

// Subscribe attaches a new subscriber. Subscribing to a closed stream
// returns a subscription whose channel is already closed.
func (s *Stream[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription[T]{
		ch:     make(chan T, s.buffer),
		stream: s,
	}
	if s.closed {
		close(sub.ch)
		sub.detached = true
		return sub
	}
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
	s.metrics.SubscriberDelta(s.name, 1)
	return sub
}

// Publish delivers v to every current subscriber without blocking and
// returns how many subscribers it reached. Publishing on a closed stream is
// a no-op.
func (s *Stream[T]) Publish(v T) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	s.metrics.Published(s.name)
	for _, sub := range s.subs {
		if sub.offer(v) {
			continue
		}
		s.metrics.Dropped(s.name)
		sub.dropped++
		logger.Debugf("broadcast %s: subscriber %d full, evicted oldest event", s.name, sub.id)
	}
	return len(s.subs)
}

// Subscribers returns the number of attached subscribers.
func (s *Stream[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close detaches every subscriber and closes their channels. Close is
// idempotent.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		sub.detached = true
		close(sub.ch)
		s.metrics.SubscriberDelta(s.name, -1)
	}
}

func (s *Stream[T]) remove(sub *Subscription[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.detached {
		return
	}
	sub.detached = true
	delete(s.subs, sub.id)
	close(sub.ch)
	s.metrics.SubscriberDelta(s.name, -1)
}

// Subscription is one subscriber's view of a Stream.
type Subscription[T any] struct {
	id     uint64
	ch     chan T
	stream *Stream[T]

	// Guarded by stream.mu.
	detached bool
	dropped  int
}

// C returns the receive channel. It is closed when the subscription or the
// stream is closed.
func (sub *Subscription[T]) C() <-chan T { return sub.ch }

// Close detaches the subscriber. It is safe to call more than once.
func (sub *Subscription[T]) Close() {
	sub.stream.remove(sub)
}

// Dropped returns how many events were evicted from this subscriber's
// buffer.
func (sub *Subscription[T]) Dropped() int {
	sub.stream.mu.Lock()
	defer sub.stream.mu.Unlock()
	return sub.dropped
}

// offer enqueues v, evicting the oldest buffered value if the buffer is
// full. It reports false when an eviction (or, in a race with the reader,
// a loss of v itself) happened. Must be called with stream.mu held.
func (sub *Subscription[T]) offer(v T) bool {
	select {
	case sub.ch <- v:
		return true
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- v:
	default:
	}
	return false
}
