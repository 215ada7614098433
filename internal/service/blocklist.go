package service

import (
	"context"
	"fmt"
	"time"

	"chatdispatch/internal/domain"
	"chatdispatch/internal/util"
)

type BlocklistStore interface {
	UpsertBlocked(ctx context.Context, e domain.BlocklistEntry) error
	DeleteBlocked(ctx context.Context, phone string) (bool, error)
	ListBlocked(ctx context.Context) ([]domain.BlocklistEntry, error)
}

type BlocklistService struct {
	Store BlocklistStore
	Now   func() time.Time
}

// Add blocks phone for future campaigns. Re-adding updates reason and notes.
func (s *BlocklistService) Add(ctx context.Context, phone string, reason domain.BlocklistReason, notes string) (domain.BlocklistEntry, error) {
	phone = util.NormalizePhone(phone)
	if phone == "" {
		return domain.BlocklistEntry{}, domain.ErrMissingFields
	}
	if reason == "" {
		reason = domain.BlockManual
	}
	if !reason.Valid() {
		return domain.BlocklistEntry{}, fmt.Errorf("blocklist reason %q: %w", reason, domain.ErrInvalidInput)
	}
	now := util.NowUTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	e := domain.BlocklistEntry{
		ID:          util.NewID(util.PrefixBlock),
		PhoneNumber: phone,
		Reason:      reason,
		Notes:       notes,
		AddedAt:     now,
	}
	if err := s.Store.UpsertBlocked(ctx, e); err != nil {
		return domain.BlocklistEntry{}, err
	}
	return e, nil
}

func (s *BlocklistService) Remove(ctx context.Context, phone string) error {
	ok, err := s.Store.DeleteBlocked(ctx, util.NormalizePhone(phone))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *BlocklistService) List(ctx context.Context) ([]domain.BlocklistEntry, error) {
	return s.Store.ListBlocked(ctx)
}
