package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	qport "github.com/Angelica137/kindly/internal/infrastructure/queue/port"
	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/usecase"
	repository "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/port"
)

const (
	// MarkReadTaskType is the queue task name for clearing a conversation's unread flag.
	MarkReadTaskType = "conversation:mark_read"
	// MarkReadQueue is the logical queue mark-read tasks are enqueued on.
	MarkReadQueue = "conversation"

	markReadMaxRetry  = 5
	markReadUniqueTTL = 10 * time.Second
	markReadTimeout   = 10 * time.Second
)

// MarkReadTaskPayload is the JSON payload transported via the queue.
type MarkReadTaskPayload struct {
	UserID         string `json:"userId"`
	ConversationID int64  `json:"conversationId"`
}

// RegisterMarkReadTask binds the mark-read handler to srv.
func RegisterMarkReadTask(srv qport.Server, repo repository.ConversationRepository, log *zap.Logger) {
	log = logger.OrNop(log)
	uc := usecase.NewMarkConversationReadUseCase(repo)

	srv.Register(MarkReadTaskType, func(ctx context.Context, t qport.Task) error {
		var p MarkReadTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			// malformed payload: never retry
			return fmt.Errorf("%w: decode payload: %v", qport.ErrSkipRetry, err)
		}

		ctx, cancel := context.WithTimeout(ctx, markReadTimeout)
		defer cancel()

		err := uc.Execute(ctx, usecase.MarkConversationReadInput{UserID: p.UserID, ConversationID: p.ConversationID})
		switch {
		case err == nil:
			log.Debug("conversation_marked_read", zap.String("user_id", p.UserID), zap.Int64("conversation_id", p.ConversationID))
			return nil
		case errors.Is(err, usecase.ErrPersistence):
			return err
		case errors.Is(err, conversation.ErrNotFound):
			log.Info("conversation_mark_read_skipped", zap.String("user_id", p.UserID), zap.Int64("conversation_id", p.ConversationID))
		}
		// invalid input or unknown conversation: retrying cannot help
		return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
	})
}

// MarkReadEnqueuer schedules mark-read tasks. Repeated requests for the same
// conversation within a short window collapse into one task.
type MarkReadEnqueuer struct {
	Q qport.Client
}

func NewMarkReadEnqueuer(client qport.Client) *MarkReadEnqueuer {
	return &MarkReadEnqueuer{Q: client}
}

func (e *MarkReadEnqueuer) MarkRead(ctx context.Context, userID string, conversationID int64) error {
	b, err := json.Marshal(MarkReadTaskPayload{UserID: userID, ConversationID: conversationID})
	if err != nil {
		return err
	}
	opts := qport.EnqueueOption{
		Queue:     MarkReadQueue,
		MaxRetry:  markReadMaxRetry,
		UniqueTTL: markReadUniqueTTL,
	}
	_, err = e.Q.Enqueue(ctx, qport.Task{Type: MarkReadTaskType, Payload: b}, opts)
	if errors.Is(err, qport.ErrDuplicateTask) {
		return nil
	}
	return err
}
