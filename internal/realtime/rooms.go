package realtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/scamazon/storefront/internal/transport"
	"github.com/scamazon/storefront/pkg/logger"
)

// ErrInvalidRoom is returned for a non-positive room id.
var ErrInvalidRoom = errors.New("realtime: invalid room id")

// Rooms tracks the single chat room this client has joined on the chat
// session. It is the only component that issues JoinChatRoom and
// LeaveChatRoom.
//
// Several consumers may watch the recorded room at once; each Join of the
// recorded room adds an observer and the room is only left when the last
// observer calls Leave.
type Rooms struct {
	session transport.Session

	mu        sync.Mutex
	current   int64
	observers int
}

func newRooms(session transport.Session) *Rooms {
	return &Rooms{session: session}
}

// Current returns the recorded room, if any.
func (r *Rooms) Current() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != 0
}

// Join makes roomID the joined room, leaving the previously recorded room
// first. Nothing is recorded or queued when the chat session is not
// connected; transport.ErrNotConnected is returned instead.
func (r *Rooms) Join(roomID int64) error {
	if roomID <= 0 {
		logger.Warnf("rooms: refusing to join room %d", roomID)
		return fmt.Errorf("%w: %d", ErrInvalidRoom, roomID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == roomID {
		r.observers++
		logger.Debugf("rooms: room %d already joined, observers=%d", roomID, r.observers)
		return nil
	}

	if state := r.session.State(); state != transport.StateConnected {
		logger.Infof("rooms: not joining room %d, chat session %s", roomID, state)
		return fmt.Errorf("join room %d: %w", roomID, transport.ErrNotConnected)
	}

	if r.current != 0 {
		if err := r.session.Invoke(MethodLeaveChatRoom, r.current); err != nil {
			logger.Warnf("rooms: leave room %d failed: %v", r.current, err)
		}
		r.current, r.observers = 0, 0
	}

	if err := r.session.Invoke(MethodJoinChatRoom, roomID); err != nil {
		logger.Warnf("rooms: join room %d failed: %v", roomID, err)
		return fmt.Errorf("join room %d: %w", roomID, err)
	}
	r.current, r.observers = roomID, 1
	logger.Debugf("rooms: joined room %d", roomID)
	return nil
}

// Leave drops one observer of roomID. When the last observer leaves, the
// record is cleared and LeaveChatRoom is sent if the session is connected.
// Leaving a room that is not recorded is a no-op.
func (r *Rooms) Leave(roomID int64) error {
	if roomID <= 0 {
		logger.Warnf("rooms: refusing to leave room %d", roomID)
		return fmt.Errorf("%w: %d", ErrInvalidRoom, roomID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != roomID {
		logger.Debugf("rooms: leave %d ignored, current=%d", roomID, r.current)
		return nil
	}
	r.observers--
	if r.observers > 0 {
		return nil
	}
	r.current, r.observers = 0, 0

	if r.session.State() != transport.StateConnected {
		logger.Debugf("rooms: cleared room %d without leaving, chat session offline", roomID)
		return nil
	}
	if err := r.session.Invoke(MethodLeaveChatRoom, roomID); err != nil {
		logger.Warnf("rooms: leave room %d failed: %v", roomID, err)
	}
	return nil
}

// rejoin re-announces the recorded room on a fresh chat connection.
func (r *Rooms) rejoin() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == 0 {
		return
	}
	if err := r.session.Invoke(MethodJoinChatRoom, r.current); err != nil {
		logger.Warnf("rooms: rejoin room %d failed: %v", r.current, err)
		return
	}
	logger.Infof("rooms: rejoined room %d", r.current)
}
