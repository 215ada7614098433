package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chatdispatch/internal/chat"
	"chatdispatch/internal/domain"
	"chatdispatch/internal/fanout"
)

// BulkService sends one message to a flat list through a caller-chosen sender.
// It does not consult quotas or health.
type BulkService struct {
	Senders  SenderLookup
	Registry *chat.Registry
}

func (s *BulkService) Send(ctx context.Context, req domain.BulkSendRequest) (domain.BulkSendResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.BulkSendResponse{}, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return domain.BulkSendResponse{}, domain.ErrEmptyMessage
	}
	if _, err := s.Senders.Get(ctx, req.SenderID); err != nil {
		return domain.BulkSendResponse{}, fmt.Errorf("sender %s: %w", req.SenderID, err)
	}
	conn, ok := s.Registry.Connected(req.SenderID)
	if !ok {
		return domain.BulkSendResponse{}, fmt.Errorf("sender %s: %w", req.SenderID, domain.ErrSessionNotConnected)
	}

	out := fanout.Bulk(ctx, conn, req.Numbers, req.Message)
	slog.Info("bulk sent", "sender_id", req.SenderID, "sent", out.Sent, "failed", out.Failed, "duration", out.Duration)
	return out, nil
}
