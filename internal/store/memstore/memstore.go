// Package memstore is an in-process Store used for local runs and tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chatdispatch/internal/domain"
	"chatdispatch/internal/store"
)

type Store struct {
	mu sync.Mutex

	senders    map[string]domain.Sender
	campaigns  map[string]domain.Campaign
	contacts   map[string]domain.CampaignContact
	logs       []domain.MessageLog
	broadcasts map[string]domain.BroadcastList
	blocked    map[string]domain.BlocklistEntry
}

func New() *Store {
	return &Store{
		senders:    map[string]domain.Sender{},
		campaigns:  map[string]domain.Campaign{},
		contacts:   map[string]domain.CampaignContact{},
		broadcasts: map[string]domain.BroadcastList{},
		blocked:    map[string]domain.BlocklistEntry{},
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// senders

func (s *Store) InsertSender(ctx context.Context, in domain.Sender) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.senders {
		if existing.PhoneNumber == in.PhoneNumber || existing.Name == in.Name {
			return domain.ErrConflict
		}
	}
	s.senders[in.ID] = in
	return nil
}

func (s *Store) GetSender(ctx context.Context, id string) (domain.Sender, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.senders[id]
	return v, ok, nil
}

func (s *Store) ListSenders(ctx context.Context) ([]domain.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Sender, 0, len(s.senders))
	for _, v := range s.senders {
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListActiveSenders(ctx context.Context) ([]domain.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Sender
	for _, v := range s.senders {
		if v.IsActive {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].HealthScore > out[j].HealthScore })
	return out, nil
}

func (s *Store) ListSelectableSenders(ctx context.Context, allow []string) ([]domain.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var allowed map[string]bool
	if len(allow) > 0 {
		allowed = make(map[string]bool, len(allow))
		for _, id := range allow {
			allowed[id] = true
		}
	}
	var out []domain.Sender
	for _, v := range s.senders {
		if v.Status != domain.SenderConnected || !v.IsActive {
			continue
		}
		if allowed != nil && !allowed[v.ID] {
			continue
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return lastUsedBefore(out[i], out[j]) })
	return out, nil
}

// nulls first, then ascending; ties broken by id for a stable rotation
func lastUsedBefore(a, b domain.Sender) bool {
	switch {
	case a.LastUsed == nil && b.LastUsed == nil:
		return a.ID < b.ID
	case a.LastUsed == nil:
		return true
	case b.LastUsed == nil:
		return false
	case a.LastUsed.Equal(*b.LastUsed):
		return a.ID < b.ID
	}
	return a.LastUsed.Before(*b.LastUsed)
}

func (s *Store) DeleteSender(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.senders[id]
	delete(s.senders, id)
	return ok, nil
}

func (s *Store) MutateSender(ctx context.Context, id string, fn store.SenderMutation) (domain.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.senders[id]
	if !ok {
		return domain.Sender{}, domain.ErrNotFound
	}
	if err := fn(&v); err != nil {
		if errors.Is(err, store.ErrSkip) {
			return s.senders[id], nil
		}
		return domain.Sender{}, err
	}
	v.UpdatedAt = time.Now().UTC()
	s.senders[id] = v
	return v, nil
}

func (s *Store) IncrementSenderUsage(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.senders[id]
	if !ok {
		return domain.ErrNotFound
	}
	v.SentThisMinute++
	v.SentThisHour++
	v.SentThisDay++
	v.LastUsed = &now
	v.UpdatedAt = now
	s.senders[id] = v
	return nil
}

// campaigns

func (s *Store) InsertCampaign(ctx context.Context, c domain.Campaign, contacts []domain.CampaignContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = cloneCampaign(c)
	for _, ct := range contacts {
		s.contacts[ct.ID] = cloneContact(ct)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.campaigns[id]
	return cloneCampaign(v), ok, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Campaign, 0, len(s.campaigns))
	for _, v := range s.campaigns {
		out = append(out, cloneCampaign(v))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListDueScheduledCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, v := range s.campaigns {
		if v.Status == domain.CampaignScheduled && v.ScheduledStart != nil && !v.ScheduledStart.After(now) {
			out = append(out, cloneCampaign(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledStart.Before(*out[j].ScheduledStart) })
	return out, nil
}

func (s *Store) MutateCampaign(ctx context.Context, id string, fn store.CampaignMutation) (domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	v = cloneCampaign(v)
	if err := fn(&v); err != nil {
		if errors.Is(err, store.ErrSkip) {
			return cloneCampaign(s.campaigns[id]), nil
		}
		return domain.Campaign{}, err
	}
	v.UpdatedAt = time.Now().UTC()
	s.campaigns[id] = v
	return cloneCampaign(v), nil
}

func (s *Store) DeleteCampaign(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.campaigns[id]
	delete(s.campaigns, id)
	for cid, c := range s.contacts {
		if c.CampaignID == id {
			delete(s.contacts, cid)
		}
	}
	return ok, nil
}

// contacts

func (s *Store) GetContact(ctx context.Context, id string) (domain.CampaignContact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.contacts[id]
	return cloneContact(v), ok, nil
}

// ListContacts returns a campaign's contacts in creation order, optionally
// restricted to the given statuses.
func (s *Store) ListContacts(ctx context.Context, campaignID string, statuses ...domain.ContactStatus) ([]domain.CampaignContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[domain.ContactStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	var out []domain.CampaignContact
	for _, c := range s.contacts {
		if c.CampaignID != campaignID {
			continue
		}
		if len(want) > 0 && !want[c.Status] {
			continue
		}
		out = append(out, cloneContact(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ContactStats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	contacts, err := s.ListContacts(ctx, campaignID)
	if err != nil {
		return domain.CampaignStats{}, err
	}
	return domain.ComputeStats(contacts), nil
}

func (s *Store) MutateContact(ctx context.Context, id string, fn store.ContactMutation) (domain.CampaignContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.contacts[id]
	if !ok {
		return domain.CampaignContact{}, domain.ErrNotFound
	}
	v = cloneContact(v)
	if err := fn(&v); err != nil {
		if errors.Is(err, store.ErrSkip) {
			return cloneContact(s.contacts[id]), nil
		}
		return domain.CampaignContact{}, err
	}
	s.contacts[id] = v
	return cloneContact(v), nil
}

// message logs

func (s *Store) InsertMessageLog(ctx context.Context, l domain.MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

func (s *Store) ListMessageLogs(ctx context.Context, campaignID string) ([]domain.MessageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MessageLog
	for _, l := range s.logs {
		if campaignID == "" || l.CampaignID == campaignID {
			out = append(out, l)
		}
	}
	return out, nil
}

// broadcast lists

func (s *Store) InsertBroadcastList(ctx context.Context, l domain.BroadcastList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts[l.ID] = cloneBroadcast(l)
	return nil
}

func (s *Store) GetBroadcastList(ctx context.Context, id string) (domain.BroadcastList, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.broadcasts[id]
	return cloneBroadcast(v), ok, nil
}

func (s *Store) ListBroadcastLists(ctx context.Context) ([]domain.BroadcastList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BroadcastList, 0, len(s.broadcasts))
	for _, v := range s.broadcasts {
		out = append(out, cloneBroadcast(v))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteBroadcastList(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.broadcasts[id]
	delete(s.broadcasts, id)
	return ok, nil
}

// blocklist

func (s *Store) UpsertBlocked(ctx context.Context, e domain.BlocklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.blocked[e.PhoneNumber]; ok {
		e.ID = prev.ID
		e.AddedAt = prev.AddedAt
	}
	s.blocked[e.PhoneNumber] = e
	return nil
}

func (s *Store) DeleteBlocked(ctx context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[phone]
	delete(s.blocked, phone)
	return ok, nil
}

func (s *Store) ListBlocked(ctx context.Context) ([]domain.BlocklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BlocklistEntry, 0, len(s.blocked))
	for _, v := range s.blocked {
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AddedAt.After(out[j].AddedAt) })
	return out, nil
}

func (s *Store) BlockedNumbers(ctx context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.blocked))
	for phone := range s.blocked {
		out[phone] = struct{}{}
	}
	return out, nil
}

func cloneCampaign(c domain.Campaign) domain.Campaign {
	if c.SenderIDs != nil {
		c.SenderIDs = append([]string(nil), c.SenderIDs...)
	}
	return c
}

func cloneContact(c domain.CampaignContact) domain.CampaignContact {
	if c.Variables != nil {
		vars := make(map[string]string, len(c.Variables))
		for k, v := range c.Variables {
			vars[k] = v
		}
		c.Variables = vars
	}
	return c
}

func cloneBroadcast(l domain.BroadcastList) domain.BroadcastList {
	groups := make([]domain.BroadcastGroup, len(l.Groups))
	for i, g := range l.Groups {
		g.Members = append([]string(nil), g.Members...)
		groups[i] = g
	}
	l.Groups = groups
	return l
}
