// Package sender is the sender registry: identities, quota windows, health and
// least-recently-used selection.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatdispatch/internal/cache"
	"chatdispatch/internal/chat"
	"chatdispatch/internal/domain"
	"chatdispatch/internal/observability"
	"chatdispatch/internal/store"
	"chatdispatch/internal/util"
)

type Store interface {
	InsertSender(ctx context.Context, s domain.Sender) error
	GetSender(ctx context.Context, id string) (domain.Sender, bool, error)
	ListSenders(ctx context.Context) ([]domain.Sender, error)
	ListActiveSenders(ctx context.Context) ([]domain.Sender, error)
	ListSelectableSenders(ctx context.Context, allow []string) ([]domain.Sender, error)
	DeleteSender(ctx context.Context, id string) (bool, error)
	MutateSender(ctx context.Context, id string, fn store.SenderMutation) (domain.Sender, error)
	IncrementSenderUsage(ctx context.Context, id string, now time.Time) error
}

type Manager struct {
	Store    Store
	Registry *chat.Registry
	QR       cache.QRCache
	Now      func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return util.NowUTC()
}

func (m *Manager) Create(ctx context.Context, req domain.CreateSenderRequest) (domain.Sender, error) {
	if err := req.Validate(); err != nil {
		return domain.Sender{}, err
	}
	now := m.now()
	s := domain.Sender{
		ID:              util.NewID(util.PrefixSender),
		Name:            req.Name,
		PhoneNumber:     util.NormalizePhone(req.PhoneNumber),
		Status:          domain.SenderDisconnected,
		QuotaPerMinute:  orDefault(req.QuotaPerMinute, domain.DefaultQuotaPerMinute),
		QuotaPerHour:    orDefault(req.QuotaPerHour, domain.DefaultQuotaPerHour),
		QuotaPerDay:     orDefault(req.QuotaPerDay, domain.DefaultQuotaPerDay),
		LastResetMinute: now,
		LastResetHour:   now,
		LastResetDay:    now,
		HealthScore:     domain.MaxHealthScore,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.Store.InsertSender(ctx, s); err != nil {
		return domain.Sender{}, err
	}
	return s, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (m *Manager) Get(ctx context.Context, id string) (domain.Sender, error) {
	s, ok, err := m.Store.GetSender(ctx, id)
	if err != nil {
		return domain.Sender{}, err
	}
	if !ok {
		return domain.Sender{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *Manager) List(ctx context.Context) ([]domain.Sender, error) {
	return m.Store.ListSenders(ctx)
}

func (m *Manager) Active(ctx context.Context) ([]domain.Sender, error) {
	return m.Store.ListActiveSenders(ctx)
}

// Delete removes the record and tears down any live connection.
func (m *Manager) Delete(ctx context.Context, id string) error {
	ok, err := m.Store.DeleteSender(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	if m.Registry != nil {
		if c, ok := m.Registry.Get(id); ok {
			if lo, ok := c.(interface{ Logout(context.Context) error }); ok {
				if err := lo.Logout(ctx); err != nil {
					slog.Warn("logout sender session failed", "sender_id", id, "err", err)
				}
			}
		}
		if err := m.Registry.Remove(id); err != nil {
			slog.Warn("close sender connection failed", "sender_id", id, "err", err)
		}
	}
	if m.QR != nil {
		_ = m.QR.DeleteQR(ctx, id)
	}
	return nil
}

// UpdateStatus sets the connection status; connected also stamps lastConnected.
// A manual reconnect of a paused sender clears its failure streak.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status domain.SenderStatus) (domain.Sender, error) {
	if !status.Valid() {
		return domain.Sender{}, fmt.Errorf("sender status %q: %w", status, domain.ErrInvalidInput)
	}
	now := m.now()
	return m.Store.MutateSender(ctx, id, func(s *domain.Sender) error {
		if status == domain.SenderConnected {
			if s.Status == domain.SenderPaused {
				s.ConsecutiveFailures = 0
			}
			s.LastConnected = &now
		}
		s.Status = status
		return nil
	})
}

// MarkDisconnected records a dropped session. Paused and banned senders keep
// their status until a manual connect opens a session again.
func (m *Manager) MarkDisconnected(ctx context.Context, id string) (domain.Sender, error) {
	return m.Store.MutateSender(ctx, id, func(s *domain.Sender) error {
		switch s.Status {
		case domain.SenderPaused, domain.SenderBanned, domain.SenderDisconnected:
			return store.ErrSkip
		}
		s.Status = domain.SenderDisconnected
		return nil
	})
}

// HasAvailableQuota resets elapsed windows (persisting the reset whatever the
// outcome) and reports whether one more send fits.
func (m *Manager) HasAvailableQuota(ctx context.Context, id string) (bool, error) {
	now := m.now()
	s, err := m.Store.MutateSender(ctx, id, func(s *domain.Sender) error {
		if !ResetExpiredWindows(s, now) {
			return store.ErrSkip
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return WithinQuota(s), nil
}

// IncrementUsage records one successful send against every window.
func (m *Manager) IncrementUsage(ctx context.Context, id string) error {
	return m.Store.IncrementSenderUsage(ctx, id, m.now())
}

// UpdateHealth applies one send outcome. It never fails; persistence errors are
// logged and returned in the result.
func (m *Manager) UpdateHealth(ctx context.Context, id string, success bool) HealthResult {
	res := HealthResult{SenderID: id, Success: success}
	now := m.now()
	s, err := m.Store.MutateSender(ctx, id, func(s *domain.Sender) error {
		res.Paused = ApplyOutcome(s, success, now)
		return nil
	})
	if err != nil {
		res.Paused = false
		res.Err = err
		slog.Warn("health update failed", "sender_id", id, "success", success, "err", err)
		return res
	}
	res.HealthScore = s.HealthScore
	res.ConsecutiveFailures = s.ConsecutiveFailures
	if res.Paused {
		observability.AutoPauses.Inc()
		slog.Warn("sender auto-paused", "sender_id", id, "consecutive_failures", s.ConsecutiveFailures)
	}
	return res
}

// Stats summarises a sender's usage. Elapsed windows read as zero without
// being persisted.
func (m *Manager) Stats(ctx context.Context, id string) (domain.SenderStats, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return domain.SenderStats{}, err
	}
	ResetExpiredWindows(&s, m.now())

	var st domain.SenderStats
	st.TotalSent = s.SuccessCount + s.FailureCount
	if st.TotalSent > 0 {
		st.SuccessRate = float64(s.SuccessCount) / float64(st.TotalSent) * 100
	}
	st.HealthScore = s.HealthScore
	st.QuotaUsage.Minute = domain.QuotaUsage{Used: s.SentThisMinute, Limit: s.QuotaPerMinute}
	st.QuotaUsage.Hour = domain.QuotaUsage{Used: s.SentThisHour, Limit: s.QuotaPerHour}
	st.QuotaUsage.Day = domain.QuotaUsage{Used: s.SentThisDay, Limit: s.QuotaPerDay}
	return st, nil
}

func (m *Manager) QRCode(ctx context.Context, id string) (string, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return "", err
	}
	if m.QR == nil {
		return "", domain.ErrNotFound
	}
	qr, ok, err := m.QR.GetQR(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNotFound
	}
	return qr, nil
}

// NextHealthySender is the least-recently-used connected sender that passes the
// health, failure-streak and quota filters. Allow restricts the candidates.
func (m *Manager) NextHealthySender(ctx context.Context, allow []string) (domain.Sender, error) {
	candidates, err := m.Store.ListSelectableSenders(ctx, allow)
	if err != nil {
		return domain.Sender{}, err
	}
	for _, s := range candidates {
		if !Selectable(s) {
			observability.SelectorOutcomes.WithLabelValues("skip_health").Inc()
			continue
		}
		ok, err := m.HasAvailableQuota(ctx, s.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Sender{}, err
		}
		if !ok {
			observability.SelectorOutcomes.WithLabelValues("skip_quota").Inc()
			continue
		}
		observability.SelectorOutcomes.WithLabelValues("selected").Inc()
		return s, nil
	}
	observability.SelectorOutcomes.WithLabelValues("none").Inc()
	return domain.Sender{}, domain.ErrNoEligibleSender
}
