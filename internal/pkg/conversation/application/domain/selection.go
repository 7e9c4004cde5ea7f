package conversation

// SelectionMode is the state of the conversation pane.
type SelectionMode int

const (
	// SelectionNone is the initial state: neither the list nor a conversation is shown.
	SelectionNone SelectionMode = iota
	SelectionList
	SelectionConversation
)

func (m SelectionMode) String() string {
	switch m {
	case SelectionList:
		return "list"
	case SelectionConversation:
		return "conversation"
	default:
		return "none"
	}
}

// SelectionState is a read-only view of the selection. ConversationID is
// set only in SelectionConversation mode.
type SelectionState struct {
	Mode           SelectionMode
	ConversationID int64
}

// ListVisible reports whether the conversation list is shown.
func (s SelectionState) ListVisible() bool { return s.Mode == SelectionList }
