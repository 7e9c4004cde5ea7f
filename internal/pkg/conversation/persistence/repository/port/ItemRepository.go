package repository

import (
	"context"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

// ItemRepository reads and reserves donated items.
// Lookups of a missing item return conversation.ErrItemNotFound.
type ItemRepository interface {
	FindItem(ctx context.Context, itemID string) (*conversation.Item, error)
	FindItemDisplay(ctx context.Context, itemID string) (conversation.ItemDisplay, error)
	ReserveItem(ctx context.Context, itemID string, userID string) error
}
