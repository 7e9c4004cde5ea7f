package repository

import (
	"context"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

// ConversationRepository persists the user_conversations pairings.
type ConversationRepository interface {
	// ListUserConversations returns the user's conversations joined with their
	// item, oldest first. Summaries whose item is gone have ItemResolved=false.
	ListUserConversations(ctx context.Context, userID string) ([]conversation.Summary, error)
	// MarkRead clears the unread flag; conversation.ErrNotFound if the user
	// is not part of the conversation.
	MarkRead(ctx context.Context, userID string, conversationID int64) error
}
