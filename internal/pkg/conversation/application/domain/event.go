package conversation

// EventKind identifies a change feed event.
type EventKind int

const (
	EventInserted EventKind = iota + 1
	EventUpdated
	EventDeleted
	// EventResynced signals that events may have been missed and state must be reloaded.
	EventResynced
)

func (k EventKind) String() string {
	switch k {
	case EventInserted:
		return "inserted"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventResynced:
		return "resynced"
	default:
		return "unknown"
	}
}

// Event is one typed change of a user_conversations row.
//
//   - Inserted: New set
//   - Updated:  Old (possibly partial) and New set
//   - Deleted:  Old set; it may carry only the primary key
//   - Resynced: neither set
type Event struct {
	Kind EventKind
	Old  *Row
	New  *Row
}

func Inserted(r Row) Event { return Event{Kind: EventInserted, New: &r} }
func Updated(old, next Row) Event { return Event{Kind: EventUpdated, Old: &old, New: &next} }
func Deleted(old Row) Event { return Event{Kind: EventDeleted, Old: &old} }
func Resynced() Event { return Event{Kind: EventResynced} }

// ConversationID returns the conversation the event refers to, preferring the
// new row. It is zero when the event does not carry one.
func (e Event) ConversationID() int64 {
	if e.New != nil && e.New.ConversationID != 0 {
		return e.New.ConversationID
	}
	if e.Old != nil {
		return e.Old.ConversationID
	}
	return 0
}
