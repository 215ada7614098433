package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatdispatch/internal/chat"
	"chatdispatch/internal/domain"
	"chatdispatch/internal/queue"
	"chatdispatch/internal/sender"
	"chatdispatch/internal/store/memstore"
)

type recConn struct {
	mu       sync.Mutex
	state    chat.ConnState
	sendErr  error
	sent     []string
	presence []chat.Presence
}

func (c *recConn) Connect(ctx context.Context) (<-chan chat.Event, error) { return nil, nil }
func (c *recConn) Send(ctx context.Context, to, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", &chat.SendError{To: to, Err: c.sendErr}
	}
	c.sent = append(c.sent, to+":"+text)
	return "wamid-1", nil
}
func (c *recConn) UpdatePresence(ctx context.Context, state chat.Presence, to string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = append(c.presence, state)
	return nil
}
func (c *recConn) Status() chat.ConnState { return c.state }
func (c *recConn) Close() error           { return nil }

type progressRec struct {
	mu    sync.Mutex
	calls []string
}

func (p *progressRec) RefreshProgress(ctx context.Context, campaignID string) (domain.Campaign, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, campaignID)
	return domain.Campaign{ID: campaignID}, nil
}

type fixture struct {
	st       *memstore.Store
	senders  *sender.Manager
	conns    map[string]*recConn
	progress *progressRec
	sleeps   []time.Duration
	d        *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{st: memstore.New(), conns: map[string]*recConn{}, progress: &progressRec{}}
	reg := chat.NewRegistry(func(id string) chat.Connection {
		c, ok := f.conns[id]
		if !ok {
			c = &recConn{state: chat.StateDisconnected}
			f.conns[id] = c
		}
		return c
	})
	f.senders = &sender.Manager{Store: f.st, Registry: reg}
	f.d = &Dispatcher{
		Store:    f.st,
		Senders:  f.senders,
		Progress: f.progress,
		Registry: reg,
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
		Jitter: func(lo, hi time.Duration) time.Duration { return lo },
	}
	return f
}

func (f *fixture) addSender(t *testing.T, name, phone string, online bool) domain.Sender {
	t.Helper()
	ctx := context.Background()
	s, err := f.senders.Create(ctx, domain.CreateSenderRequest{Name: name, PhoneNumber: phone})
	if err != nil {
		t.Fatalf("create sender: %v", err)
	}
	state := chat.StateDisconnected
	if online {
		state = chat.StateConnected
		if _, err := f.senders.UpdateStatus(ctx, s.ID, domain.SenderConnected); err != nil {
			t.Fatalf("status: %v", err)
		}
	}
	f.conns[s.ID] = &recConn{state: state}
	f.d.Registry.Open(s.ID)
	return s
}

func (f *fixture) addCampaign(t *testing.T, status domain.CampaignStatus) (domain.Campaign, domain.CampaignContact) {
	t.Helper()
	now := time.Now().UTC()
	c := domain.Campaign{ID: "cmp_1", Name: "promo", Status: status, Template: "Hi {{name}}", TotalRecipients: 1, CreatedAt: now}
	ct := domain.CampaignContact{ID: "cct_1", CampaignID: c.ID, PhoneNumber: "+15551230000",
		Variables: map[string]string{"name": "Ana"}, Status: domain.ContactQueued, QueuedAt: &now, CreatedAt: now}
	if err := f.st.InsertCampaign(context.Background(), c, []domain.CampaignContact{ct}); err != nil {
		t.Fatalf("insert campaign: %v", err)
	}
	return c, ct
}

func jobFor(c domain.Campaign, ct domain.CampaignContact, typing bool, senders ...string) queue.Job {
	return queue.NewSendMessage(queue.SendMessage{
		CampaignID: c.ID, ContactID: ct.ID, PhoneNumber: ct.PhoneNumber,
		Template: c.Template, Variables: ct.Variables, SenderIDs: senders, EnableTyping: typing,
	})
}

func TestProcessSendsAndRecordsSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.addSender(t, "main", "+15550000001", true)
	c, ct := f.addCampaign(t, domain.CampaignRunning)

	if err := f.d.Process(ctx, jobFor(c, ct, true)); err != nil {
		t.Fatalf("process: %v", err)
	}

	conn := f.conns[s.ID]
	if len(conn.sent) != 1 || conn.sent[0] != "+15551230000:Hi Ana" {
		t.Fatalf("unexpected sends: %v", conn.sent)
	}
	if len(conn.presence) != 2 || conn.presence[0] != chat.PresenceComposing || conn.presence[1] != chat.PresencePaused {
		t.Fatalf("unexpected presence: %v", conn.presence)
	}
	wantTyping := time.Duration(len("Hi Ana"))*TypingPerChar + TypingJitterMin
	if len(f.sleeps) != 2 || f.sleeps[0] != PreSendMin || f.sleeps[1] != wantTyping {
		t.Fatalf("unexpected sleeps: %v", f.sleeps)
	}

	got, _, _ := f.st.GetContact(ctx, ct.ID)
	if got.Status != domain.ContactSent || got.SentAt == nil || got.AssignedSenderID != s.ID {
		t.Fatalf("unexpected contact: %+v", got)
	}
	snd, _ := f.senders.Get(ctx, s.ID)
	if snd.SentThisMinute != 1 || snd.SuccessCount != 1 || snd.LastUsed == nil {
		t.Fatalf("usage/health not recorded: %+v", snd)
	}
	logs, _ := f.st.ListMessageLogs(ctx, c.ID)
	if len(logs) != 1 || logs[0].Message != "Hi Ana" || logs[0].ProviderID != "wamid-1" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if len(f.progress.calls) != 1 {
		t.Fatalf("expected progress refresh, got %v", f.progress.calls)
	}
}

func TestProcessWithoutTypingSkipsPresence(t *testing.T) {
	f := newFixture(t)
	s := f.addSender(t, "main", "+15550000001", true)
	c, ct := f.addCampaign(t, domain.CampaignRunning)

	if err := f.d.Process(context.Background(), jobFor(c, ct, false)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.conns[s.ID].presence) != 0 || len(f.sleeps) != 1 {
		t.Fatalf("typing should be skipped: presence=%v sleeps=%v", f.conns[s.ID].presence, f.sleeps)
	}
}

func TestProcessFailureMarksContactAndHealth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.addSender(t, "main", "+15550000001", true)
	f.conns[s.ID].sendErr = errors.New("remote rejected")
	c, ct := f.addCampaign(t, domain.CampaignRunning)

	err := f.d.Process(ctx, jobFor(c, ct, true))
	var sendErr *chat.SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected send error, got %v", err)
	}

	got, _, _ := f.st.GetContact(ctx, ct.ID)
	if got.Status != domain.ContactFailed || got.AttemptCount != 1 || got.ErrorMessage == "" || got.FailedAt == nil {
		t.Fatalf("unexpected contact: %+v", got)
	}
	snd, _ := f.senders.Get(ctx, s.ID)
	if snd.HealthScore != 95 || snd.ConsecutiveFailures != 1 || snd.SentThisMinute != 0 {
		t.Fatalf("unexpected sender: %+v", snd)
	}
	p := f.conns[s.ID].presence
	if p[len(p)-1] != chat.PresencePaused {
		t.Fatalf("presence should end paused: %v", p)
	}

	// a retry of a failed contact still sends
	f.conns[s.ID].sendErr = nil
	if err := f.d.Process(ctx, jobFor(c, ct, false).Next()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _, _ = f.st.GetContact(ctx, ct.ID)
	if got.Status != domain.ContactSent {
		t.Fatalf("retry should deliver, got %s", got.Status)
	}
}

func TestProcessUsesAllowlistInOrder(t *testing.T) {
	f := newFixture(t)
	offline := f.addSender(t, "offline", "+15550000001", false)
	second := f.addSender(t, "second", "+15550000002", true)
	third := f.addSender(t, "third", "+15550000003", true)
	c, ct := f.addCampaign(t, domain.CampaignRunning)

	if err := f.d.Process(context.Background(), jobFor(c, ct, false, offline.ID, second.ID, third.ID)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.conns[second.ID].sent) != 1 || len(f.conns[third.ID].sent) != 0 {
		t.Fatalf("expected first connected listed sender to send")
	}
}

func TestProcessWithoutSenderFails(t *testing.T) {
	f := newFixture(t)
	f.addSender(t, "offline", "+15550000001", false)
	c, ct := f.addCampaign(t, domain.CampaignRunning)

	err := f.d.Process(context.Background(), jobFor(c, ct, false))
	if !errors.Is(err, domain.ErrNoEligibleSender) {
		t.Fatalf("expected no eligible sender, got %v", err)
	}
	if len(f.sleeps) != 0 {
		t.Fatalf("no pacing before a sender is found")
	}
}

func TestProcessSkipsDeliveredContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.addSender(t, "main", "+15550000001", true)
	c, ct := f.addCampaign(t, domain.CampaignRunning)
	_, _ = f.st.MutateContact(ctx, ct.ID, func(v *domain.CampaignContact) error {
		v.Status = domain.ContactDelivered
		return nil
	})

	if err := f.d.Process(ctx, jobFor(c, ct, true)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.conns[s.ID].sent) != 0 {
		t.Fatalf("delivered contact must not be sent again")
	}
}

func TestProcessReleasesContactOfPausedCampaign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.addSender(t, "main", "+15550000001", true)
	c, ct := f.addCampaign(t, domain.CampaignPaused)

	if err := f.d.Process(ctx, jobFor(c, ct, true)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.conns[s.ID].sent) != 0 {
		t.Fatalf("paused campaign must not send")
	}
	got, _, _ := f.st.GetContact(ctx, ct.ID)
	if got.Status != domain.ContactPending || got.QueuedAt != nil {
		t.Fatalf("expected contact released to pending, got %+v", got)
	}
}

func TestGiveUpFailsOutstandingContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, ct := f.addCampaign(t, domain.CampaignRunning)

	f.d.GiveUp(ctx, jobFor(c, ct, false), domain.ErrNoEligibleSender)
	got, _, _ := f.st.GetContact(ctx, ct.ID)
	if got.Status != domain.ContactFailed || got.ErrorMessage != domain.ErrNoEligibleSender.Error() {
		t.Fatalf("unexpected contact: %+v", got)
	}
}

func TestTypingDelayIsCapped(t *testing.T) {
	if got := TypingDelay("hello", time.Second); got != 5*TypingPerChar+time.Second {
		t.Fatalf("unexpected delay %s", got)
	}
	long := make([]byte, 500)
	if got := TypingDelay(string(long), TypingJitterMin); got != TypingMax {
		t.Fatalf("expected cap, got %s", got)
	}
}
