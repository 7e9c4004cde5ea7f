package adapter

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	repository "github.com/Angelica137/kindly/internal/repository/port"
)

type PgProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPgProfileRepository(pool *pgxpool.Pool) *PgProfileRepository {
	return &PgProfileRepository{pool: pool}
}

var _ repository.ProfileRepository = (*PgProfileRepository)(nil)

func (r *PgProfileRepository) FindByID(ctx context.Context, id string) (*conversation.Profile, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgProfileRepository: nil pool")
	}
	var p conversation.Profile
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, COALESCE(username, ''), COALESCE(email, ''), COALESCE(refugee, false)
		FROM profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Username, &p.Email, &p.Recipient)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversation.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
