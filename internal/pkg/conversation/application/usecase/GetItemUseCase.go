package usecase

import (
	"context"
	"errors"
	"fmt"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	repository "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/port"
	profiles "github.com/Angelica137/kindly/internal/repository/port"
)

type GetItemInput struct {
	ItemID   string
	ViewerID string
}

type GetItemOutput struct {
	Item conversation.Item
	// Donor is nil when the donor profile no longer exists.
	Donor *conversation.Profile
	// CanMessage gates the enquiry action: the viewer is a recipient and not the donor.
	CanMessage bool
}

type GetItemUseCase struct {
	Items    repository.ItemRepository
	Profiles profiles.ProfileRepository
}

func NewGetItemUseCase(items repository.ItemRepository, profileRepo profiles.ProfileRepository) *GetItemUseCase {
	return &GetItemUseCase{Items: items, Profiles: profileRepo}
}

func (uc *GetItemUseCase) Execute(ctx context.Context, in GetItemInput) (*GetItemOutput, error) {
	if in.ItemID == "" {
		return nil, conversation.ErrMissingIdentifier
	}

	item, err := uc.Items.FindItem(ctx, in.ItemID)
	if err != nil {
		if errors.Is(err, conversation.ErrItemNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	out := &GetItemOutput{Item: *item}

	if item.OwnerID != "" {
		donor, err := uc.findProfile(ctx, item.OwnerID)
		if err != nil {
			return nil, err
		}
		out.Donor = donor
	}

	if in.ViewerID != "" {
		viewer, err := uc.findProfile(ctx, in.ViewerID)
		if err != nil {
			return nil, err
		}
		out.CanMessage = viewer != nil && viewer.CanMessageAbout(*item)
	}
	return out, nil
}

// findProfile returns nil for a missing profile.
func (uc *GetItemUseCase) findProfile(ctx context.Context, id string) (*conversation.Profile, error) {
	p, err := uc.Profiles.FindByID(ctx, id)
	if errors.Is(err, conversation.ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return p, nil
}
