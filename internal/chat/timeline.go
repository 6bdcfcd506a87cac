package chat

import (
	"slices"
)

// Timeline is the reconciled message list for one room: no two entries share
// an ID and entries are ordered by CreatedAt, then ID.
//
// Timeline is a value. Mutating methods return a new Timeline and never
// touch the receiver's backing array, so snapshots handed out to readers stay
// stable.
type Timeline struct {
	msgs []Message
}

// NewTimeline builds a timeline from an unordered batch (typically one REST
// page), dropping duplicate IDs. The first occurrence of an ID wins.
func NewTimeline(msgs []Message) Timeline {
	out := make([]Message, 0, len(msgs))
	seen := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	slices.SortStableFunc(out, compareMessages)
	return Timeline{msgs: out}
}

// Len returns the number of messages.
func (t Timeline) Len() int { return len(t.msgs) }

// Messages returns a copy of the ordered messages.
func (t Timeline) Messages() []Message {
	return slices.Clone(t.msgs)
}

// Contains reports whether a message with id is present.
func (t Timeline) Contains(id int64) bool {
	return slices.ContainsFunc(t.msgs, func(m Message) bool { return m.ID == id })
}

// Insert adds m unless its ID is already present. The second result reports
// whether the timeline changed.
func (t Timeline) Insert(m Message) (Timeline, bool) {
	if t.Contains(m.ID) {
		return t, false
	}
	pos, _ := slices.BinarySearchFunc(t.msgs, m, compareMessages)
	out := make([]Message, 0, len(t.msgs)+1)
	out = append(out, t.msgs[:pos]...)
	out = append(out, m)
	out = append(out, t.msgs[pos:]...)
	return Timeline{msgs: out}, true
}

// Merge inserts every message of batch and returns how many were new.
func (t Timeline) Merge(batch []Message) (Timeline, int) {
	added := 0
	for _, m := range batch {
		var ok bool
		if t, ok = t.Insert(m); ok {
			added++
		}
	}
	return t, added
}

// Last returns the newest message.
func (t Timeline) Last() (Message, bool) {
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

func compareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}
