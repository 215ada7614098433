package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatdispatch/internal/domain"
	"chatdispatch/internal/queue"
	"chatdispatch/internal/store/memstore"
)

type enqueued struct {
	job   queue.Job
	delay time.Duration
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, enqueued{job: job, delay: delay})
	return nil
}

func newCampaignService() (*CampaignService, *memstore.Store, *recordingQueue) {
	st := memstore.New()
	q := &recordingQueue{}
	return &CampaignService{Store: st, Queue: q}, st, q
}

func contacts(phones ...string) []domain.ContactInput {
	out := make([]domain.ContactInput, len(phones))
	for i, p := range phones {
		out[i] = domain.ContactInput{PhoneNumber: p, Variables: map[string]string{"name": p}}
	}
	return out
}

func TestStartSequencesCumulativeDelays(t *testing.T) {
	ctx := context.Background()
	svc, st, q := newCampaignService()
	c, err := svc.Create(ctx, domain.CreateCampaignRequest{
		Name:     "promo",
		Template: "Hello {{name}}",
		Contacts: contacts("+15550000001", "+15550000002", "+15550000003"),
		Options:  domain.CampaignOptions{MinDelayMs: 100, MaxDelayMs: 200},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	started, err := svc.Start(ctx, c.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.CampaignRunning || started.StartedAt == nil {
		t.Fatalf("unexpected campaign: %+v", started)
	}

	if len(q.jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(q.jobs))
	}
	var prev time.Duration
	for i, e := range q.jobs {
		inc := e.delay - prev
		if inc < 100*time.Millisecond || inc > 200*time.Millisecond {
			t.Fatalf("job %d increment %s out of [100ms,200ms]", i, inc)
		}
		if e.delay <= prev {
			t.Fatalf("delays must strictly increase: %v", q.jobs)
		}
		if err := e.job.Validate(); err != nil {
			t.Fatalf("job %d invalid: %v", i, err)
		}
		prev = e.delay
	}
	if q.jobs[0].job.SendMessage.PhoneNumber != "+15550000001" {
		t.Fatalf("enqueue order should follow contact order")
	}

	queued, _ := st.ListContacts(ctx, c.ID, domain.ContactQueued)
	if len(queued) != 3 || queued[0].QueuedAt == nil {
		t.Fatalf("expected all contacts queued, got %+v", queued)
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newCampaignService()
	c, err := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t", Contacts: contacts("+1")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.MinDelayMs != 2000 || c.MaxDelayMs != 5000 || !c.EnableTyping || c.Status != domain.CampaignDraft {
		t.Fatalf("unexpected defaults: %+v", c)
	}

	off := false
	later := time.Now().Add(time.Hour)
	c, err = svc.Create(ctx, domain.CreateCampaignRequest{Name: "b", Template: "t", Contacts: contacts("+1"),
		Options: domain.CampaignOptions{EnableTyping: &off, ScheduledStart: &later}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.EnableTyping || c.Status != domain.CampaignScheduled {
		t.Fatalf("unexpected options: %+v", c)
	}
}

func TestCreateDropsBlocklistedNumbers(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newCampaignService()
	_ = st.UpsertBlocked(ctx, domain.BlocklistEntry{ID: "b1", PhoneNumber: "+15550000002", Reason: domain.BlockOptOut})

	c, err := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t",
		Contacts: contacts("+15550000001", "+1 555 000 0002")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.TotalRecipients != 1 {
		t.Fatalf("expected blocked contact dropped, got %d", c.TotalRecipients)
	}

	_, err = svc.Create(ctx, domain.CreateCampaignRequest{Name: "b", Template: "t", Contacts: contacts("+15550000002")})
	if !errors.Is(err, domain.ErrNoContacts) {
		t.Fatalf("expected ErrNoContacts, got %v", err)
	}
}

func TestCreateLogsBlockedAndInvalidSeparately(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx := context.Background()
	svc, st, _ := newCampaignService()
	_ = st.UpsertBlocked(ctx, domain.BlocklistEntry{ID: "b1", PhoneNumber: "+15550000002", Reason: domain.BlockOptOut})

	if _, err := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t",
		Contacts: contacts("+15550000001", "+15550000002", "n/a", "")}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var entry struct {
		Msg      string `json:"msg"`
		Contacts int    `json:"contacts"`
		Blocked  int    `json:"blocked"`
		Invalid  int    `json:"invalid"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log %q: %v", buf.String(), err)
	}
	if entry.Msg != "campaign created" || entry.Contacts != 1 || entry.Blocked != 1 || entry.Invalid != 2 {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
}

func TestStartRequiresDraftOrPausedWithPending(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newCampaignService()
	c, _ := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t", Contacts: contacts("+1")})

	if _, err := svc.Start(ctx, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Start(ctx, c.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for running campaign, got %v", err)
	}

	if _, err := svc.Pause(ctx, c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := svc.Start(ctx, c.ID); !errors.Is(err, domain.ErrNoPendingContacts) {
		t.Fatalf("expected no pending contacts, got %v", err)
	}
	if _, err := svc.Start(ctx, "cmp_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	got, _, _ := st.GetCampaign(ctx, c.ID)
	if got.Status != domain.CampaignPaused {
		t.Fatalf("failed start must not change status, got %s", got.Status)
	}
}

func TestPauseAndResume(t *testing.T) {
	ctx := context.Background()
	svc, st, q := newCampaignService()
	c, _ := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t", Contacts: contacts("+1", "+2")})

	if _, err := svc.Pause(ctx, c.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("pause of draft should fail, got %v", err)
	}
	_, _ = svc.Start(ctx, c.ID)
	if _, err := svc.Resume(ctx, c.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("resume of running should fail, got %v", err)
	}
	if _, err := svc.Pause(ctx, c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// the worker released one contact while paused
	queued, _ := st.ListContacts(ctx, c.ID, domain.ContactQueued)
	_, _ = st.MutateContact(ctx, queued[0].ID, func(v *domain.CampaignContact) error {
		v.Status = domain.ContactPending
		v.QueuedAt = nil
		return nil
	})

	got, err := svc.Resume(ctx, c.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Status != domain.CampaignRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}
	if len(q.jobs) != 3 || q.jobs[2].job.SendMessage.ContactID != queued[0].ID {
		t.Fatalf("expected released contact re-sequenced, got %d jobs", len(q.jobs))
	}
}

func TestCampaignCompletesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newCampaignService()
	c, _ := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t", Contacts: contacts("+1", "+2")})
	_, _ = svc.Start(ctx, c.ID)
	list, _ := st.ListContacts(ctx, c.ID)

	setStatus := func(id string, status domain.ContactStatus) {
		_, _ = st.MutateContact(ctx, id, func(v *domain.CampaignContact) error {
			v.Status = status
			return nil
		})
	}

	setStatus(list[0].ID, domain.ContactSent)
	got, err := svc.RefreshProgress(ctx, c.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.Status != domain.CampaignRunning || got.ProcessedCount != 1 || got.CompletedAt != nil {
		t.Fatalf("campaign must not complete with a queued contact: %+v", got)
	}

	setStatus(list[1].ID, domain.ContactFailed)
	got, _ = svc.RefreshProgress(ctx, c.ID)
	if got.Status != domain.CampaignCompleted || got.CompletedAt == nil {
		t.Fatalf("expected completion: %+v", got)
	}
	if got.ProcessedCount != 2 || got.SuccessCount != 1 || got.FailedCount != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	first := *got.CompletedAt

	if _, err := svc.UpdateContactStatus(ctx, list[0].ID, domain.ContactRead); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ = svc.Get(ctx, c.ID)
	if !got.CompletedAt.Equal(first) || got.Status != domain.CampaignCompleted {
		t.Fatalf("completion must happen once: %+v", got)
	}

	stats, _ := svc.Stats(ctx, c.ID)
	if stats.Read != 1 || stats.Failed != 1 || stats.SuccessRate != 50 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUpdateContactStatusRejectsOtherStatuses(t *testing.T) {
	svc, _, _ := newCampaignService()
	if _, err := svc.UpdateContactStatus(context.Background(), "cct_x", domain.ContactQueued); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateContactStatusRequiresSend(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newCampaignService()
	c, _ := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t", Contacts: contacts("+1", "+2")})
	list, _ := st.ListContacts(ctx, c.ID)

	if _, err := svc.UpdateContactStatus(ctx, list[0].ID, domain.ContactRead); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("read receipt for a pending contact: expected invalid state, got %v", err)
	}
	if _, err := svc.UpdateContactStatus(ctx, list[0].ID, domain.ContactDelivered); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("delivery receipt for a pending contact: expected invalid state, got %v", err)
	}
	got, _, _ := st.GetContact(ctx, list[0].ID)
	if got.Status != domain.ContactPending || got.DeliveredAt != nil || got.ReadAt != nil {
		t.Fatalf("pending contact must be untouched: %+v", got)
	}
	if _, err := svc.Start(ctx, c.ID); err != nil {
		t.Fatalf("campaign must still start: %v", err)
	}

	_, _ = st.MutateContact(ctx, list[1].ID, func(v *domain.CampaignContact) error {
		v.Status = domain.ContactSent
		return nil
	})
	read, err := svc.UpdateContactStatus(ctx, list[1].ID, domain.ContactRead)
	if err != nil || read.Status != domain.ContactRead || read.DeliveredAt == nil {
		t.Fatalf("read after send: %+v %v", read, err)
	}
	late, err := svc.UpdateContactStatus(ctx, list[1].ID, domain.ContactDelivered)
	if err != nil || late.Status != domain.ContactRead {
		t.Fatalf("late delivery receipt must not downgrade read: %+v %v", late, err)
	}
}

func TestStartDueRunsScheduledCampaigns(t *testing.T) {
	ctx := context.Background()
	svc, _, q := newCampaignService()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	at := now.Add(10 * time.Minute)
	c, err := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t", Contacts: contacts("+1"),
		Options: domain.CampaignOptions{ScheduledStart: &at}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Start(ctx, c.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("scheduled campaign starts only when due, got %v", err)
	}

	if n, _ := svc.StartDue(ctx); n != 0 {
		t.Fatalf("nothing is due yet, started %d", n)
	}
	now = now.Add(11 * time.Minute)
	n, err := svc.StartDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one start, got %d err=%v", n, err)
	}
	got, _ := svc.Get(ctx, c.ID)
	if got.Status != domain.CampaignRunning || len(q.jobs) != 1 {
		t.Fatalf("expected running campaign with one job, got %s/%d", got.Status, len(q.jobs))
	}
}

func TestDeleteCampaign(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newCampaignService()
	c, _ := svc.Create(ctx, domain.CreateCampaignRequest{Name: "a", Template: "t", Contacts: contacts("+1")})
	if err := svc.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if list, _ := st.ListContacts(ctx, c.ID); len(list) != 0 {
		t.Fatalf("contacts should be removed")
	}
	if err := svc.Delete(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
