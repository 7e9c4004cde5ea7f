package conversation

import "time"

// Row mirrors one user_conversations record as carried by the change feed.
// Primary key: ID. (UserID, ConversationID) is unique.
type Row struct {
	ID                int64     `json:"id" db:"id"`
	ConversationID    int64     `json:"conversation_id" db:"conversation_id"`
	UserID            string    `json:"user_id" db:"user_id"`
	JoinedAt          time.Time `json:"joined_at" db:"joined_at"`
	ItemID            string    `json:"item_id" db:"item_id"`
	HasUnreadMessages bool      `json:"has_unread_messages" db:"has_unread_messages"`
}
