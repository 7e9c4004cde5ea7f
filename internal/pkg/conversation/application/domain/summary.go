package conversation

import "time"

// Summary is the client-facing view of one user/conversation pairing,
// enriched with the display fields of the item it is about.
type Summary struct {
	RowID             int64     `json:"id"`
	ConversationID    int64     `json:"conversation_id"`
	UserID            string    `json:"user_id"`
	JoinedAt          time.Time `json:"joined_at"`
	ItemID            string    `json:"item_id"`
	ItemName          string    `json:"item_name"`
	ItemImageRef      string    `json:"item_image_ref"`
	HasUnreadMessages bool      `json:"has_unread_messages"`
	// ItemResolved is false when the item lookup failed and the item fields are placeholders.
	ItemResolved bool `json:"item_resolved"`
}

// NewSummary builds a summary from a row. A nil display leaves the item fields empty.
func NewSummary(r Row, display *ItemDisplay) Summary {
	s := Summary{
		RowID:             r.ID,
		ConversationID:    r.ConversationID,
		UserID:            r.UserID,
		JoinedAt:          r.JoinedAt,
		ItemID:            r.ItemID,
		HasUnreadMessages: r.HasUnreadMessages,
	}
	if display != nil {
		s.ItemName = display.Name
		s.ItemImageRef = display.ImageRef
		s.ItemResolved = true
	}
	return s
}
