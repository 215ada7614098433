package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatdispatch/internal/chat"
	"chatdispatch/internal/domain"
	"chatdispatch/internal/fanout"
	"chatdispatch/internal/util"
)

type BroadcastStore interface {
	InsertBroadcastList(ctx context.Context, l domain.BroadcastList) error
	GetBroadcastList(ctx context.Context, id string) (domain.BroadcastList, bool, error)
	ListBroadcastLists(ctx context.Context) ([]domain.BroadcastList, error)
	DeleteBroadcastList(ctx context.Context, id string) (bool, error)
}

type SenderLookup interface {
	Get(ctx context.Context, id string) (domain.Sender, error)
}

// BroadcastJID names the protocol broadcast address of one group.
func BroadcastJID(listID string, position int) string {
	return fmt.Sprintf("broadcast_%s_%d", listID, position)
}

type BroadcastService struct {
	Store       BroadcastStore
	Senders     SenderLookup
	Registry    *chat.Registry
	Broadcaster *fanout.Broadcaster
	Now         func() time.Time
}

func (s *BroadcastService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return util.NowUTC()
}

// Create splits the numbers into groups of at most 256 and stores the list.
func (s *BroadcastService) Create(ctx context.Context, req domain.CreateBroadcastRequest) (domain.BroadcastCreateResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.BroadcastCreateResponse{}, err
	}
	if _, err := s.Senders.Get(ctx, req.SenderID); err != nil {
		return domain.BroadcastCreateResponse{}, fmt.Errorf("sender %s: %w", req.SenderID, err)
	}

	numbers := normalizeAll(req.Numbers)
	if len(numbers) == 0 {
		return domain.BroadcastCreateResponse{}, domain.ErrMissingFields
	}

	now := s.now()
	l := domain.BroadcastList{
		ID:           util.NewID(util.PrefixBroadcast),
		Name:         req.Name,
		SenderID:     req.SenderID,
		TotalMembers: len(numbers),
		CreatedAt:    now,
	}
	for i, chunk := range util.Chunk(numbers, domain.MaxBroadcastGroupSize) {
		l.Groups = append(l.Groups, domain.BroadcastGroup{
			ID:              util.NewID(util.PrefixGroup),
			BroadcastListID: l.ID,
			BroadcastJID:    BroadcastJID(l.ID, i),
			Position:        i,
			Members:         chunk,
			MemberCount:     len(chunk),
			CreatedAt:       now,
		})
	}
	if err := s.Store.InsertBroadcastList(ctx, l); err != nil {
		return domain.BroadcastCreateResponse{}, err
	}

	slog.Info("broadcast list created", "broadcast_list_id", l.ID, "sender_id", l.SenderID,
		"groups", len(l.Groups), "members", l.TotalMembers)
	return domain.BroadcastCreateResponse{
		ID:           l.ID,
		Name:         l.Name,
		GroupCount:   len(l.Groups),
		TotalMembers: l.TotalMembers,
		Groups:       l.Groups,
	}, nil
}

// Send delivers message to every group of the list through the list's sender.
func (s *BroadcastService) Send(ctx context.Context, id, message string) (domain.BroadcastSendResponse, error) {
	if strings.TrimSpace(message) == "" {
		return domain.BroadcastSendResponse{}, domain.ErrEmptyMessage
	}
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.BroadcastSendResponse{}, err
	}
	conn, ok := s.Registry.Connected(l.SenderID)
	if !ok {
		return domain.BroadcastSendResponse{}, fmt.Errorf("sender %s: %w", l.SenderID, domain.ErrSessionNotConnected)
	}

	b := s.Broadcaster
	if b == nil {
		b = &fanout.Broadcaster{}
	}
	out, err := b.Send(ctx, conn, l.Groups, message)
	slog.Info("broadcast sent", "broadcast_list_id", id, "groups", out.GroupsSent,
		"sent", out.Sent, "failed", out.Failed, "duration", out.Duration)
	return out, err
}

func (s *BroadcastService) Get(ctx context.Context, id string) (domain.BroadcastList, error) {
	l, ok, err := s.Store.GetBroadcastList(ctx, id)
	if err != nil {
		return domain.BroadcastList{}, err
	}
	if !ok {
		return domain.BroadcastList{}, domain.ErrNotFound
	}
	return l, nil
}

func (s *BroadcastService) List(ctx context.Context) ([]domain.BroadcastList, error) {
	return s.Store.ListBroadcastLists(ctx)
}

func (s *BroadcastService) Delete(ctx context.Context, id string) error {
	ok, err := s.Store.DeleteBroadcastList(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		if p := util.NormalizePhone(n); p != "" {
			out = append(out, p)
		}
	}
	return out
}
