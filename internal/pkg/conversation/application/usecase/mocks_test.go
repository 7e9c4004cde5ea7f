package usecase

import (
	"context"

	"github.com/stretchr/testify/mock"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

type mockItemRepo struct {
	mock.Mock
}

func (m *mockItemRepo) FindItem(ctx context.Context, itemID string) (*conversation.Item, error) {
	args := m.Called(ctx, itemID)
	item, _ := args.Get(0).(*conversation.Item)
	return item, args.Error(1)
}

func (m *mockItemRepo) FindItemDisplay(ctx context.Context, itemID string) (conversation.ItemDisplay, error) {
	args := m.Called(ctx, itemID)
	return args.Get(0).(conversation.ItemDisplay), args.Error(1)
}

func (m *mockItemRepo) ReserveItem(ctx context.Context, itemID string, userID string) error {
	return m.Called(ctx, itemID, userID).Error(0)
}

type mockConversationRepo struct {
	mock.Mock
}

func (m *mockConversationRepo) ListUserConversations(ctx context.Context, userID string) ([]conversation.Summary, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]conversation.Summary)
	return list, args.Error(1)
}

func (m *mockConversationRepo) MarkRead(ctx context.Context, userID string, conversationID int64) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

type mockProfileRepo struct {
	mock.Mock
}

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*conversation.Profile, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*conversation.Profile)
	return p, args.Error(1)
}
