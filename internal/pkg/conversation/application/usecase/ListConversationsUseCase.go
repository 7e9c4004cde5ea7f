package usecase

import (
	"context"
	"fmt"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	repository "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/port"
)

type ListConversationsInput struct {
	UserID string
}

// ListConversationsUseCase returns a user's enriched conversations, oldest first.
type ListConversationsUseCase struct {
	Repo repository.ConversationRepository
}

func NewListConversationsUseCase(repo repository.ConversationRepository) *ListConversationsUseCase {
	return &ListConversationsUseCase{Repo: repo}
}

func (uc *ListConversationsUseCase) Execute(ctx context.Context, in ListConversationsInput) ([]conversation.Summary, error) {
	if in.UserID == "" {
		return nil, ErrMissingUserID
	}
	list, err := uc.Repo.ListUserConversations(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if list == nil {
		list = []conversation.Summary{}
	}
	return list, nil
}
