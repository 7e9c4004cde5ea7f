package projection

import (
	"fmt"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

// Selection tracks which pane is shown: nothing, the conversation list, or
// one open conversation. The open conversation is referenced, not copied, so
// it always reflects the store's current state. Not safe for concurrent use.
type Selection struct {
	store   *Store
	mode    conversation.SelectionMode
	current *conversation.Summary
}

func NewSelection(store *Store) *Selection {
	return &Selection{store: store}
}

// SelectConversation opens conversation id and hides the list. The id must be
// present in the store; a stale id is a caller defect and fails with
// conversation.ErrStaleSelection, leaving the state unchanged.
func (s *Selection) SelectConversation(id int64) (conversation.Summary, error) {
	ref := s.store.ref(id)
	if ref == nil {
		return conversation.Summary{}, fmt.Errorf("%w: %d", conversation.ErrStaleSelection, id)
	}
	s.mode = conversation.SelectionConversation
	s.current = ref
	return *ref, nil
}

// ShowList shows the conversation list, closing any open conversation.
func (s *Selection) ShowList() {
	s.mode = conversation.SelectionList
	s.current = nil
}

// State returns the current selection.
func (s *Selection) State() conversation.SelectionState {
	if s.mode == conversation.SelectionConversation && s.current != nil {
		return conversation.SelectionState{Mode: s.mode, ConversationID: s.current.ConversationID}
	}
	return conversation.SelectionState{Mode: s.mode}
}

// Current returns the open conversation.
func (s *Selection) Current() (conversation.Summary, bool) {
	if s.mode != conversation.SelectionConversation || s.current == nil {
		return conversation.Summary{}, false
	}
	return *s.current, true
}

// Apply falls back to the list when the open conversation is deleted.
func (s *Selection) Apply(c Change) {
	if c.Kind != conversation.EventDeleted || s.current == nil {
		return
	}
	if s.current.ConversationID == c.ConversationID {
		s.ShowList()
	}
}

// Rebind re-resolves the open conversation after the store was reset.
// If it is gone the list is shown instead.
func (s *Selection) Rebind() {
	if s.mode != conversation.SelectionConversation || s.current == nil {
		return
	}
	if ref := s.store.ref(s.current.ConversationID); ref != nil {
		s.current = ref
		return
	}
	s.ShowList()
}
