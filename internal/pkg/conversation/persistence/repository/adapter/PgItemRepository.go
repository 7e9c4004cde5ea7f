package adapter

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	repository "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/port"
)

var errNilPool = errors.New("pg repository: nil pool")

type PgItemRepository struct {
	pool *pgxpool.Pool
}

func NewPgItemRepository(pool *pgxpool.Pool) *PgItemRepository {
	return &PgItemRepository{pool: pool}
}

var _ repository.ItemRepository = (*PgItemRepository)(nil)

func (r *PgItemRepository) FindItem(ctx context.Context, itemID string) (*conversation.Item, error) {
	if r == nil || r.pool == nil {
		return nil, errNilPool
	}
	var item conversation.Item
	err := r.pool.QueryRow(ctx, `
		SELECT id::text,
		       COALESCE(item_name, ''),
		       COALESCE(item_description, ''),
		       COALESCE("imageSrc", ''),
		       COALESCE(condition, ''),
		       COALESCE(postcode, ''),
		       COALESCE(profile_id::text, ''),
		       COALESCE(collectible, false),
		       COALESCE(postable, false),
		       COALESCE(postage_covered, false),
		       COALESCE(reserved, false),
		       reserved_by::text
		FROM items
		WHERE id = $1
	`, itemID).Scan(
		&item.ID, &item.Name, &item.Description, &item.ImageRef, &item.Condition, &item.Postcode, &item.OwnerID,
		&item.Collectible, &item.Postable, &item.PostageCovered, &item.Reserved, &item.ReservedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversation.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *PgItemRepository) FindItemDisplay(ctx context.Context, itemID string) (conversation.ItemDisplay, error) {
	if r == nil || r.pool == nil {
		return conversation.ItemDisplay{}, errNilPool
	}
	var d conversation.ItemDisplay
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(item_name, ''), COALESCE("imageSrc", '') FROM items WHERE id = $1`,
		itemID,
	).Scan(&d.Name, &d.ImageRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.ItemDisplay{}, conversation.ErrItemNotFound
	}
	return d, err
}

// ReserveItem issues a single update; it is never retried here.
func (r *PgItemRepository) ReserveItem(ctx context.Context, itemID string, userID string) error {
	if r == nil || r.pool == nil {
		return errNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE items
		SET reserved = true, reserved_by = $2
		WHERE id = $1
	`, itemID, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return conversation.ErrItemNotFound
	}
	return nil
}
