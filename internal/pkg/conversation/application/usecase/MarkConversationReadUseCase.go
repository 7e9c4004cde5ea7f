package usecase

import (
	"context"
	"errors"
	"fmt"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	repository "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/port"
)

type MarkConversationReadInput struct {
	UserID         string
	ConversationID int64
}

// MarkConversationReadUseCase clears the unread flag of one user's side of a
// conversation. Sessions see the change when the row update reaches the feed.
type MarkConversationReadUseCase struct {
	Repo repository.ConversationRepository
}

func NewMarkConversationReadUseCase(repo repository.ConversationRepository) *MarkConversationReadUseCase {
	return &MarkConversationReadUseCase{Repo: repo}
}

func (uc *MarkConversationReadUseCase) Execute(ctx context.Context, in MarkConversationReadInput) error {
	if in.UserID == "" {
		return ErrMissingUserID
	}
	if in.ConversationID <= 0 {
		return fmt.Errorf("conversation id must be positive, got %d", in.ConversationID)
	}
	if err := uc.Repo.MarkRead(ctx, in.UserID, in.ConversationID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
