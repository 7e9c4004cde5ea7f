package projection

import (
	"sort"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

// Tracker holds the ids of conversations with unread messages.
// It is folded only from changes the Store applied, so every tracked id is
// also present in the store. Not safe for concurrent use.
type Tracker struct {
	unread map[int64]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{unread: make(map[int64]struct{})}
}

// Apply folds one applied change.
func (t *Tracker) Apply(c Change) {
	switch c.Kind {
	case conversation.EventInserted, conversation.EventUpdated:
		if c.Summary.HasUnreadMessages {
			t.unread[c.ConversationID] = struct{}{}
		} else {
			delete(t.unread, c.ConversationID)
		}
	case conversation.EventDeleted:
		delete(t.unread, c.ConversationID)
	}
}

// Reset rebuilds the set from a snapshot.
func (t *Tracker) Reset(snapshot []conversation.Summary) {
	t.unread = make(map[int64]struct{})
	for _, s := range snapshot {
		if s.HasUnreadMessages {
			t.unread[s.ConversationID] = struct{}{}
		}
	}
}

// Has reports whether conversation id is flagged unread.
func (t *Tracker) Has(id int64) bool {
	_, ok := t.unread[id]
	return ok
}

// IDs returns the flagged conversation ids in ascending order.
func (t *Tracker) IDs() []int64 {
	ids := make([]int64, 0, len(t.unread))
	for id := range t.unread {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Tracker) Len() int { return len(t.unread) }
