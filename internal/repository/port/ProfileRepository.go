package repository

import (
	"context"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

// ProfileRepository reads user profiles. A missing profile is
// conversation.ErrProfileNotFound.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*conversation.Profile, error)
}
