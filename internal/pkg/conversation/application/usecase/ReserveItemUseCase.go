package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	"github.com/Angelica137/kindly/internal/infrastructure/metrics"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	repository "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/port"
)

type ReserveItemInput struct {
	ItemID string
	UserID string
}

// ReserveItemUseCase marks an item reserved by a user. It issues exactly one
// write and leaves retries to the caller; the result is only observable
// through later item reads.
type ReserveItemUseCase struct {
	Repo repository.ItemRepository
	log  *zap.Logger
}

func NewReserveItemUseCase(repo repository.ItemRepository, log *zap.Logger) *ReserveItemUseCase {
	return &ReserveItemUseCase{Repo: repo, log: logger.OrNop(log)}
}

func (uc *ReserveItemUseCase) Execute(ctx context.Context, in ReserveItemInput) error {
	if in.ItemID == "" || in.UserID == "" {
		metrics.Reservations.WithLabelValues("rejected").Inc()
		uc.log.Warn("reserve_item_rejected",
			zap.String("item_id", in.ItemID),
			zap.String("user_id", in.UserID),
			zap.Error(conversation.ErrMissingIdentifier),
		)
		return conversation.ErrMissingIdentifier
	}

	err := uc.Repo.ReserveItem(ctx, in.ItemID, in.UserID)
	switch {
	case err == nil:
		metrics.Reservations.WithLabelValues("reserved").Inc()
		uc.log.Info("item_reserved", zap.String("item_id", in.ItemID), zap.String("user_id", in.UserID))
		return nil
	case errors.Is(err, conversation.ErrItemNotFound):
		metrics.Reservations.WithLabelValues("not_found").Inc()
		return err
	default:
		metrics.Reservations.WithLabelValues("failed").Inc()
		uc.log.Error("reserve_item_failed", zap.String("item_id", in.ItemID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
}
