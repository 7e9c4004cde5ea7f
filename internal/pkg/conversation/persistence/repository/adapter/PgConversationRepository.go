package adapter

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	repository "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/port"
)

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

var _ repository.ConversationRepository = (*PgConversationRepository)(nil)

func (r *PgConversationRepository) ListUserConversations(ctx context.Context, userID string) ([]conversation.Summary, error) {
	if r == nil || r.pool == nil {
		return nil, errNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT uc.id, uc.conversation_id, uc.user_id::text, uc.joined_at, uc.item_id::text,
		       COALESCE(uc.has_unread_messages, false),
		       i.item_name, i."imageSrc"
		FROM user_conversations uc
		LEFT JOIN items i ON i.id = uc.item_id
		WHERE uc.user_id = $1
		ORDER BY uc.joined_at ASC, uc.id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []conversation.Summary
	for rows.Next() {
		var (
			s         conversation.Summary
			itemName  *string
			itemImage *string
		)
		if err := rows.Scan(&s.RowID, &s.ConversationID, &s.UserID, &s.JoinedAt, &s.ItemID,
			&s.HasUnreadMessages, &itemName, &itemImage); err != nil {
			return nil, err
		}
		if itemName != nil {
			s.ItemName = *itemName
			s.ItemResolved = true
		}
		if itemImage != nil {
			s.ItemImageRef = *itemImage
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *PgConversationRepository) MarkRead(ctx context.Context, userID string, conversationID int64) error {
	if r == nil || r.pool == nil {
		return errNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE user_conversations
		SET has_unread_messages = false
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return conversation.ErrNotFound
	}
	return nil
}
