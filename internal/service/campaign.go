package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"chatdispatch/internal/domain"
	"chatdispatch/internal/queue"
	"chatdispatch/internal/store"
	"chatdispatch/internal/util"
)

type CampaignStore interface {
	InsertCampaign(ctx context.Context, c domain.Campaign, contacts []domain.CampaignContact) error
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	ListDueScheduledCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error)
	MutateCampaign(ctx context.Context, id string, fn store.CampaignMutation) (domain.Campaign, error)
	DeleteCampaign(ctx context.Context, id string) (bool, error)

	ListContacts(ctx context.Context, campaignID string, statuses ...domain.ContactStatus) ([]domain.CampaignContact, error)
	ContactStats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
	MutateContact(ctx context.Context, id string, fn store.ContactMutation) (domain.CampaignContact, error)

	BlockedNumbers(ctx context.Context) (map[string]struct{}, error)
}

type CampaignService struct {
	Store  CampaignStore
	Queue  queue.Enqueuer
	Now    func() time.Time
	Jitter func(lo, hi time.Duration) time.Duration
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return util.NowUTC()
}

func (s *CampaignService) jitter(lo, hi time.Duration) time.Duration {
	if s.Jitter != nil {
		return s.Jitter(lo, hi)
	}
	return util.Uniform(lo, hi)
}

// Create persists a campaign and its contacts, dropping blocklisted numbers.
func (s *CampaignService) Create(ctx context.Context, req domain.CreateCampaignRequest) (domain.Campaign, error) {
	if err := req.Validate(); err != nil {
		return domain.Campaign{}, err
	}

	blocked, err := s.Store.BlockedNumbers(ctx)
	if err != nil {
		return domain.Campaign{}, err
	}

	now := s.now()
	c := domain.Campaign{
		ID:           util.NewID(util.PrefixCampaign),
		Name:         req.Name,
		Status:       domain.CampaignDraft,
		Template:     req.Template,
		MinDelayMs:   req.Options.MinDelayMs,
		MaxDelayMs:   req.Options.MaxDelayMs,
		EnableTyping: true,
		SenderIDs:    slices.Clone(req.Options.SenderIDs),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.MinDelayMs == 0 {
		c.MinDelayMs = domain.DefaultMinDelayMs
	}
	if c.MaxDelayMs == 0 {
		c.MaxDelayMs = max(domain.DefaultMaxDelayMs, c.MinDelayMs)
	}
	if c.MinDelayMs > c.MaxDelayMs {
		return domain.Campaign{}, domain.ErrInvalidDelay
	}
	if req.Options.EnableTyping != nil {
		c.EnableTyping = *req.Options.EnableTyping
	}
	if st := req.Options.ScheduledStart; st != nil && st.After(now) {
		at := st.UTC()
		c.ScheduledStart = &at
		c.Status = domain.CampaignScheduled
	}

	contacts := make([]domain.CampaignContact, 0, len(req.Contacts))
	var skippedBlocked, skippedInvalid int
	for i, in := range req.Contacts {
		phone := util.NormalizePhone(in.PhoneNumber)
		if phone == "" {
			skippedInvalid++
			continue
		}
		if _, ok := blocked[phone]; ok {
			skippedBlocked++
			continue
		}
		contacts = append(contacts, domain.CampaignContact{
			ID:          util.NewID(util.PrefixContact),
			CampaignID:  c.ID,
			PhoneNumber: phone,
			Variables:   in.Variables,
			Status:      domain.ContactPending,
			// keeps input order stable for the sequencer
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	if len(contacts) == 0 {
		return domain.Campaign{}, domain.ErrNoContacts
	}
	c.TotalRecipients = len(contacts)

	if err := s.Store.InsertCampaign(ctx, c, contacts); err != nil {
		return domain.Campaign{}, err
	}
	slog.Info("campaign created", "campaign_id", c.ID, "contacts", len(contacts),
		"blocked", skippedBlocked, "invalid", skippedInvalid, "status", c.Status)
	return c, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (domain.Campaign, error) {
	c, ok, err := s.Store.GetCampaign(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *CampaignService) List(ctx context.Context) ([]domain.Campaign, error) {
	return s.Store.ListCampaigns(ctx)
}

// Delete removes the campaign and its contacts. Jobs already queued find no
// contact and are dropped by the worker.
func (s *CampaignService) Delete(ctx context.Context, id string) error {
	ok, err := s.Store.DeleteCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *CampaignService) Stats(ctx context.Context, id string) (domain.CampaignStats, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return domain.CampaignStats{}, err
	}
	return s.Store.ContactStats(ctx, id)
}

// Start queues every pending contact of a draft or paused campaign.
func (s *CampaignService) Start(ctx context.Context, id string) (domain.Campaign, error) {
	return s.start(ctx, id, domain.CampaignDraft, domain.CampaignPaused)
}

// StartDue starts scheduled campaigns whose start time has passed.
func (s *CampaignService) StartDue(ctx context.Context) (started int, err error) {
	due, err := s.Store.ListDueScheduledCampaigns(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, c := range due {
		if _, err := s.start(ctx, c.ID, domain.CampaignScheduled); err != nil {
			slog.Error("start scheduled campaign failed", "campaign_id", c.ID, "err", err)
			continue
		}
		started++
	}
	return started, nil
}

func (s *CampaignService) start(ctx context.Context, id string, from ...domain.CampaignStatus) (domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if !slices.Contains(from, c.Status) {
		return domain.Campaign{}, fmt.Errorf("start campaign in status %s: %w", c.Status, domain.ErrInvalidState)
	}
	pending, err := s.Store.ListContacts(ctx, id, domain.ContactPending)
	if err != nil {
		return domain.Campaign{}, err
	}
	if len(pending) == 0 {
		return domain.Campaign{}, domain.ErrNoPendingContacts
	}

	now := s.now()
	c, err = s.Store.MutateCampaign(ctx, id, func(c *domain.Campaign) error {
		if !slices.Contains(from, c.Status) {
			return fmt.Errorf("start campaign in status %s: %w", c.Status, domain.ErrInvalidState)
		}
		c.Status = domain.CampaignRunning
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return domain.Campaign{}, err
	}

	if _, err := s.sequence(ctx, c, pending); err != nil {
		return c, err
	}
	return c, nil
}

// sequence enqueues one job per contact. Contact k fires after the sum of k
// increments, each drawn from [minDelay, maxDelay].
func (s *CampaignService) sequence(ctx context.Context, c domain.Campaign, contacts []domain.CampaignContact) (queued int, err error) {
	lo := time.Duration(c.MinDelayMs) * time.Millisecond
	hi := time.Duration(c.MaxDelayMs) * time.Millisecond

	var delay time.Duration
	for _, ct := range contacts {
		delay += s.jitter(lo, hi)
		job := queue.NewSendMessage(queue.SendMessage{
			CampaignID:   c.ID,
			ContactID:    ct.ID,
			PhoneNumber:  ct.PhoneNumber,
			Template:     c.Template,
			Variables:    ct.Variables,
			SenderIDs:    c.SenderIDs,
			EnableTyping: c.EnableTyping,
		})
		if err := s.Queue.Enqueue(ctx, job, delay); err != nil {
			return queued, fmt.Errorf("enqueue contact %s: %w", ct.ID, err)
		}

		queuedAt := s.now()
		if _, err := s.Store.MutateContact(ctx, ct.ID, func(v *domain.CampaignContact) error {
			// the worker may already have picked it up
			if v.Status != domain.ContactPending {
				return store.ErrSkip
			}
			v.Status = domain.ContactQueued
			v.QueuedAt = &queuedAt
			return nil
		}); err != nil {
			return queued, err
		}
		queued++
	}
	slog.Info("campaign sequenced", "campaign_id", c.ID, "queued", queued, "span", delay)
	return queued, nil
}

func (s *CampaignService) Pause(ctx context.Context, id string) (domain.Campaign, error) {
	return s.Store.MutateCampaign(ctx, id, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignRunning {
			return fmt.Errorf("pause campaign in status %s: %w", c.Status, domain.ErrInvalidState)
		}
		c.Status = domain.CampaignPaused
		return nil
	})
}

// Resume flips a paused campaign back to running and re-sequences the contacts
// the worker released while it was paused.
func (s *CampaignService) Resume(ctx context.Context, id string) (domain.Campaign, error) {
	c, err := s.Store.MutateCampaign(ctx, id, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignPaused {
			return fmt.Errorf("resume campaign in status %s: %w", c.Status, domain.ErrInvalidState)
		}
		c.Status = domain.CampaignRunning
		return nil
	})
	if err != nil {
		return domain.Campaign{}, err
	}

	pending, err := s.Store.ListContacts(ctx, id, domain.ContactPending)
	if err != nil {
		return c, err
	}
	if len(pending) > 0 {
		if _, err := s.sequence(ctx, c, pending); err != nil {
			return c, err
		}
	}
	return s.RefreshProgress(ctx, id)
}

// RefreshProgress recomputes the counters from the contact set and completes a
// running campaign once nothing is pending or queued.
func (s *CampaignService) RefreshProgress(ctx context.Context, id string) (domain.Campaign, error) {
	stats, err := s.Store.ContactStats(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	now := s.now()
	completed := false
	c, err := s.Store.MutateCampaign(ctx, id, func(c *domain.Campaign) error {
		c.ProcessedCount = stats.Processed()
		c.SuccessCount = stats.Succeeded()
		c.FailedCount = stats.Failed
		if c.Status == domain.CampaignRunning && stats.Outstanding() == 0 {
			c.Status = domain.CampaignCompleted
			c.CompletedAt = &now
			completed = true
		}
		return nil
	})
	if err != nil {
		return domain.Campaign{}, err
	}
	if completed {
		slog.Info("campaign completed", "campaign_id", id, "sent", c.SuccessCount, "failed", c.FailedCount)
	}
	return c, nil
}

// UpdateContactStatus records a delivery receipt for a sent contact.
func (s *CampaignService) UpdateContactStatus(ctx context.Context, contactID string, status domain.ContactStatus) (domain.CampaignContact, error) {
	if status != domain.ContactDelivered && status != domain.ContactRead {
		return domain.CampaignContact{}, fmt.Errorf("contact status %q: %w", status, domain.ErrInvalidInput)
	}
	now := s.now()
	ct, err := s.Store.MutateContact(ctx, contactID, func(c *domain.CampaignContact) error {
		switch c.Status {
		case domain.ContactSent, domain.ContactDelivered, domain.ContactRead:
		default:
			// receipts only follow a send
			return fmt.Errorf("contact %s is %s: %w", c.ID, c.Status, domain.ErrInvalidState)
		}
		switch status {
		case domain.ContactDelivered:
			if c.Status != domain.ContactSent {
				return store.ErrSkip
			}
			c.DeliveredAt = &now
		case domain.ContactRead:
			if c.Status == domain.ContactRead {
				return store.ErrSkip
			}
			if c.DeliveredAt == nil {
				c.DeliveredAt = &now
			}
			c.ReadAt = &now
		}
		c.Status = status
		return nil
	})
	if err != nil {
		return domain.CampaignContact{}, err
	}
	if _, err := s.RefreshProgress(ctx, ct.CampaignID); err != nil {
		return ct, err
	}
	return ct, nil
}
