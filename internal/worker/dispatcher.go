package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatdispatch/internal/chat"
	"chatdispatch/internal/domain"
	"chatdispatch/internal/observability"
	"chatdispatch/internal/queue"
	"chatdispatch/internal/sender"
	"chatdispatch/internal/store"
	"chatdispatch/internal/util"
)

const (
	PreSendMin = 1 * time.Second
	PreSendMax = 3 * time.Second

	TypingPerChar   = 50 * time.Millisecond
	TypingJitterMin = 500 * time.Millisecond
	TypingJitterMax = 2 * time.Second
	TypingMax       = 5 * time.Second
)

type Store interface {
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	GetContact(ctx context.Context, id string) (domain.CampaignContact, bool, error)
	MutateContact(ctx context.Context, id string, fn store.ContactMutation) (domain.CampaignContact, error)
	InsertMessageLog(ctx context.Context, l domain.MessageLog) error
}

type Senders interface {
	Get(ctx context.Context, id string) (domain.Sender, error)
	NextHealthySender(ctx context.Context, allow []string) (domain.Sender, error)
	HasAvailableQuota(ctx context.Context, id string) (bool, error)
	IncrementUsage(ctx context.Context, id string) error
	UpdateHealth(ctx context.Context, id string, success bool) sender.HealthResult
}

// Progress recomputes campaign counters after a contact status change.
type Progress interface {
	RefreshProgress(ctx context.Context, campaignID string) (domain.Campaign, error)
}

type Dispatcher struct {
	Store    Store
	Senders  Senders
	Progress Progress
	Registry *chat.Registry

	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(lo, hi time.Duration) time.Duration
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return util.NowUTC()
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, dur)
	}
	return util.Sleep(ctx, dur)
}

func (d *Dispatcher) jitter(lo, hi time.Duration) time.Duration {
	if d.Jitter != nil {
		return d.Jitter(lo, hi)
	}
	return util.Uniform(lo, hi)
}

// TypingDelay is how long the composing indicator shows for a message.
func TypingDelay(message string, jitter time.Duration) time.Duration {
	return min(TypingMax, time.Duration(len(message))*TypingPerChar+jitter)
}

// Process delivers one campaign contact. A returned error asks the pool to retry.
func (d *Dispatcher) Process(ctx context.Context, job queue.Job) error {
	p := job.SendMessage
	if p == nil {
		return fmt.Errorf("%w: %s", queue.ErrInvalidJob, job.Kind)
	}
	log := slog.With("campaign_id", p.CampaignID, "contact_id", p.ContactID, "attempt", job.Attempt)

	contact, ok, err := d.Store.GetContact(ctx, p.ContactID)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("contact gone, dropping job")
		return nil
	}
	// Idempotent consumer: a failed contact is still eligible for its retries
	if contact.Status.Terminal() && contact.Status != domain.ContactFailed {
		return nil
	}

	campaign, ok, err := d.Store.GetCampaign(ctx, p.CampaignID)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("campaign gone, dropping job")
		return nil
	}
	if campaign.Status == domain.CampaignPaused {
		return d.release(ctx, contact)
	}

	snd, conn, err := d.resolveSender(ctx, p.SenderIDs)
	if err != nil {
		return err
	}
	ok, err = d.Senders.HasAvailableQuota(ctx, snd.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sender %s: %w", snd.ID, domain.ErrQuotaExceeded)
	}

	message := util.RenderTemplate(p.Template, p.Variables)

	if err := d.sleep(ctx, d.jitter(PreSendMin, PreSendMax)); err != nil {
		return err
	}
	if p.EnableTyping {
		if err := conn.UpdatePresence(ctx, chat.PresenceComposing, p.PhoneNumber); err != nil {
			log.Warn("presence update failed", "sender_id", snd.ID, "err", err)
		}
		if err := d.sleep(ctx, TypingDelay(message, d.jitter(TypingJitterMin, TypingJitterMax))); err != nil {
			return err
		}
		if err := conn.UpdatePresence(ctx, chat.PresencePaused, p.PhoneNumber); err != nil {
			log.Warn("presence update failed", "sender_id", snd.ID, "err", err)
		}
	}

	msgID, sendErr := conn.Send(ctx, p.PhoneNumber, message)
	if sendErr != nil {
		observability.Sends.WithLabelValues("campaign", "error").Inc()
		d.recordFailure(ctx, log, contact, snd.ID, message, sendErr)
		_ = conn.UpdatePresence(ctx, chat.PresencePaused, p.PhoneNumber)
		return fmt.Errorf("send to %s via %s: %w", p.PhoneNumber, snd.ID, sendErr)
	}
	observability.Sends.WithLabelValues("campaign", "ok").Inc()
	return d.recordSuccess(ctx, log, contact, snd.ID, message, msgID)
}

// resolveSender tries the explicit list in order, else asks the selector.
func (d *Dispatcher) resolveSender(ctx context.Context, allow []string) (domain.Sender, chat.Connection, error) {
	if len(allow) > 0 {
		for _, id := range allow {
			s, err := d.Senders.Get(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return domain.Sender{}, nil, err
			}
			if s.Status != domain.SenderConnected {
				continue
			}
			conn, ok := d.Registry.Connected(id)
			if !ok {
				continue
			}
			has, err := d.Senders.HasAvailableQuota(ctx, id)
			if err != nil {
				return domain.Sender{}, nil, err
			}
			if has {
				return s, conn, nil
			}
		}
		return domain.Sender{}, nil, domain.ErrNoEligibleSender
	}

	s, err := d.Senders.NextHealthySender(ctx, nil)
	if err != nil {
		return domain.Sender{}, nil, err
	}
	conn, ok := d.Registry.Connected(s.ID)
	if !ok {
		return domain.Sender{}, nil, fmt.Errorf("sender %s: %w", s.ID, domain.ErrSessionNotConnected)
	}
	return s, conn, nil
}

// release hands a contact of a paused campaign back to pending so resume can
// re-sequence it.
func (d *Dispatcher) release(ctx context.Context, contact domain.CampaignContact) error {
	_, err := d.Store.MutateContact(ctx, contact.ID, func(c *domain.CampaignContact) error {
		if c.Status != domain.ContactQueued && c.Status != domain.ContactFailed {
			return store.ErrSkip
		}
		c.Status = domain.ContactPending
		c.QueuedAt = nil
		return nil
	})
	if err != nil {
		return err
	}
	_, err = d.Progress.RefreshProgress(ctx, contact.CampaignID)
	return err
}

func (d *Dispatcher) recordSuccess(ctx context.Context, log *slog.Logger, contact domain.CampaignContact, senderID, message, msgID string) error {
	now := d.now()
	_, err := d.Store.MutateContact(ctx, contact.ID, func(c *domain.CampaignContact) error {
		c.Status = domain.ContactSent
		c.SentAt = &now
		c.LastAttempt = &now
		c.AssignedSenderID = senderID
		c.ErrorMessage = ""
		return nil
	})
	if err != nil {
		return err
	}

	if err := d.Store.InsertMessageLog(ctx, domain.MessageLog{
		ID:          util.NewID(util.PrefixLog),
		CampaignID:  contact.CampaignID,
		ContactID:   contact.ID,
		PhoneNumber: contact.PhoneNumber,
		SenderID:    senderID,
		Message:     message,
		Status:      string(domain.ContactSent),
		ProviderID:  msgID,
		SentAt:      &now,
		CreatedAt:   now,
	}); err != nil {
		log.Error("write message log failed", "sender_id", senderID, "err", err)
	}

	if err := d.Senders.IncrementUsage(ctx, senderID); err != nil {
		log.Error("increment sender usage failed", "sender_id", senderID, "err", err)
	}
	d.Senders.UpdateHealth(ctx, senderID, true)

	if _, err := d.Progress.RefreshProgress(ctx, contact.CampaignID); err != nil {
		log.Error("refresh campaign progress failed", "err", err)
	}
	log.Info("message sent", "sender_id", senderID, "provider_message_id", msgID)
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, log *slog.Logger, contact domain.CampaignContact, senderID, message string, sendErr error) {
	now := d.now()
	_, err := d.Store.MutateContact(ctx, contact.ID, func(c *domain.CampaignContact) error {
		c.Status = domain.ContactFailed
		c.FailedAt = &now
		c.LastAttempt = &now
		c.AssignedSenderID = senderID
		c.ErrorMessage = sendErr.Error()
		c.AttemptCount++
		return nil
	})
	if err != nil {
		log.Error("mark contact failed", "err", err)
	}

	if err := d.Store.InsertMessageLog(ctx, domain.MessageLog{
		ID:           util.NewID(util.PrefixLog),
		CampaignID:   contact.CampaignID,
		ContactID:    contact.ID,
		PhoneNumber:  contact.PhoneNumber,
		SenderID:     senderID,
		Message:      message,
		Status:       string(domain.ContactFailed),
		ErrorMessage: sendErr.Error(),
		CreatedAt:    now,
	}); err != nil {
		log.Error("write message log failed", "sender_id", senderID, "err", err)
	}

	d.Senders.UpdateHealth(ctx, senderID, false)

	if _, err := d.Progress.RefreshProgress(ctx, contact.CampaignID); err != nil {
		log.Error("refresh campaign progress failed", "err", err)
	}
	log.Warn("message send failed", "sender_id", senderID, "err", sendErr)
}

// GiveUp settles a job whose retries are exhausted: the contact ends failed.
func (d *Dispatcher) GiveUp(ctx context.Context, job queue.Job, cause error) {
	p := job.SendMessage
	if p == nil {
		return
	}
	now := d.now()
	_, err := d.Store.MutateContact(ctx, p.ContactID, func(c *domain.CampaignContact) error {
		if c.Status.Terminal() {
			return store.ErrSkip
		}
		c.Status = domain.ContactFailed
		c.FailedAt = &now
		c.ErrorMessage = cause.Error()
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Error("give up contact failed", "contact_id", p.ContactID, "err", err)
		return
	}
	if _, err := d.Progress.RefreshProgress(ctx, p.CampaignID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Error("refresh campaign progress failed", "campaign_id", p.CampaignID, "err", err)
	}
}
