package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatdispatch/internal/cache"
	"chatdispatch/internal/chat"
	"chatdispatch/internal/domain"
	"chatdispatch/internal/queue"
	"chatdispatch/internal/sender"
	"chatdispatch/internal/service"
	"chatdispatch/internal/store/memstore"
)

type idleConn struct{}

func (idleConn) Connect(ctx context.Context) (<-chan chat.Event, error) {
	ch := make(chan chat.Event)
	close(ch)
	return ch, nil
}
func (idleConn) Send(ctx context.Context, to, text string) (string, error) { return "m1", nil }
func (idleConn) UpdatePresence(ctx context.Context, state chat.Presence, to string) error {
	return nil
}
func (idleConn) Status() chat.ConnState { return chat.StateDisconnected }
func (idleConn) Close() error           { return nil }

type nopQueue struct{ n int }

func (q *nopQueue) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	q.n++
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *nopQueue) {
	t.Helper()
	st := memstore.New()
	reg := chat.NewRegistry(func(string) chat.Connection { return idleConn{} })
	senders := &sender.Manager{Store: st, Registry: reg, QR: cache.NewMemoryQRCache(time.Minute)}
	q := &nopQueue{}

	s := New()
	api := &API{
		Senders:    senders,
		Campaigns:  &service.CampaignService{Store: st, Queue: q},
		Broadcasts: &service.BroadcastService{Store: st, Senders: senders, Registry: reg},
		Bulk:       &service.BulkService{Senders: senders, Registry: reg},
		Blocklist:  &service.BlocklistService{Store: st},
	}
	api.Register(s.Mux)
	s.Mux.HandleFunc("/healthz", Healthz())

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, q
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, srv.URL+path, rd)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestSenderEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, srv, http.MethodPost, "/v1/senders", map[string]any{"name": "main", "phoneNumber": "+15550000001"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	var s domain.Sender
	_ = json.Unmarshal(body, &s)
	if s.QuotaPerMinute != 20 || s.Status != domain.SenderDisconnected {
		t.Fatalf("unexpected sender: %+v", s)
	}

	if resp, _ := do(t, srv, http.MethodPost, "/v1/senders", map[string]any{"name": "other", "phoneNumber": "+15550000001"}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate phone: expected 409, got %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodPost, "/v1/senders", map[string]any{"name": "x"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing phone: expected 400, got %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodPost, "/v1/senders", "{"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodGet, "/v1/senders/snd_missing", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown sender: expected 404, got %d", resp.StatusCode)
	}

	if resp, _ := do(t, srv, http.MethodGet, "/v1/senders/next", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("no eligible sender: expected 503, got %d", resp.StatusCode)
	}
	if resp, body := do(t, srv, http.MethodPut, "/v1/senders/"+s.ID+"/status", map[string]string{"status": "connected"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
	resp, body = do(t, srv, http.MethodGet, "/v1/senders/next", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("next: %d %s", resp.StatusCode, body)
	}
	if resp, _ := do(t, srv, http.MethodPut, "/v1/senders/"+s.ID+"/status", map[string]string{"status": "sleepy"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status: expected 400, got %d", resp.StatusCode)
	}

	if resp, _ := do(t, srv, http.MethodGet, "/v1/senders/"+s.ID+"/stats", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodDelete, "/v1/senders/"+s.ID, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	srv, q := newTestServer(t)

	req := map[string]any{
		"name":     "promo",
		"template": "Hi {{name}}",
		"contacts": []map[string]any{
			{"phoneNumber": "+15550000001", "variables": map[string]string{"name": "Ann"}},
			{"phoneNumber": "+15550000002"},
		},
		"options": map[string]any{"minDelay": 100, "maxDelay": 200},
	}
	resp, body := do(t, srv, http.MethodPost, "/v1/campaigns", req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	var c domain.Campaign
	_ = json.Unmarshal(body, &c)

	if resp, _ := do(t, srv, http.MethodPost, "/v1/campaigns/"+c.ID+"/pause", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("pause draft: expected 409, got %d", resp.StatusCode)
	}
	resp, body = do(t, srv, http.MethodPost, "/v1/campaigns/"+c.ID+"/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", resp.StatusCode, body)
	}
	if q.n != 2 {
		t.Fatalf("expected 2 jobs, got %d", q.n)
	}
	if resp, _ := do(t, srv, http.MethodPost, "/v1/campaigns/"+c.ID+"/start", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("restart: expected 409, got %d", resp.StatusCode)
	}

	resp, body = do(t, srv, http.MethodGet, "/v1/campaigns/"+c.ID+"/stats", nil)
	var st domain.CampaignStats
	_ = json.Unmarshal(body, &st)
	if resp.StatusCode != http.StatusOK || st.Queued != 2 {
		t.Fatalf("stats: %d %+v", resp.StatusCode, st)
	}

	bad := map[string]any{"name": "x", "template": "t", "contacts": []any{}, "options": map[string]any{"minDelay": 500, "maxDelay": 100}}
	if resp, _ := do(t, srv, http.MethodPost, "/v1/campaigns", bad); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid delay: expected 400, got %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodDelete, "/v1/campaigns/"+c.ID, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodGet, "/v1/campaigns/"+c.ID, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted campaign: expected 404, got %d", resp.StatusCode)
	}
}

func TestMessagingEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	_, body := do(t, srv, http.MethodPost, "/v1/senders", map[string]any{"name": "main", "phoneNumber": "+15550000001"})
	var s domain.Sender
	_ = json.Unmarshal(body, &s)

	bulk := map[string]any{"senderId": s.ID, "numbers": []string{"+15550000009"}, "message": ""}
	if resp, _ := do(t, srv, http.MethodPost, "/v1/messages/bulk", bulk); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message: expected 400, got %d", resp.StatusCode)
	}
	bulk["message"] = "hello"
	if resp, _ := do(t, srv, http.MethodPost, "/v1/messages/bulk", bulk); resp.StatusCode != http.StatusConflict {
		t.Fatalf("no session: expected 409, got %d", resp.StatusCode)
	}

	resp, body := do(t, srv, http.MethodPost, "/v1/broadcasts", map[string]any{"senderId": s.ID, "name": "vip", "numbers": []string{"+1", "+2"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create broadcast: %d %s", resp.StatusCode, body)
	}
	var b domain.BroadcastCreateResponse
	_ = json.Unmarshal(body, &b)
	if b.GroupCount != 1 {
		t.Fatalf("unexpected broadcast: %+v", b)
	}
	if resp, _ := do(t, srv, http.MethodPost, "/v1/broadcasts/"+b.ID+"/send", map[string]string{"message": "hi"}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("broadcast without session: expected 409, got %d", resp.StatusCode)
	}

	if resp, _ := do(t, srv, http.MethodPost, "/v1/blocklist", map[string]string{"phoneNumber": "+15550000007", "reason": "spam"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("block: %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodDelete, "/v1/blocklist/+15550000007", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unblock: %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodDelete, "/v1/blocklist/+15550000007", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unblock twice: expected 404, got %d", resp.StatusCode)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("sender x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrEmptyMessage, http.StatusBadRequest},
		{domain.ErrNoContacts, http.StatusBadRequest},
		{domain.ErrInvalidState, http.StatusConflict},
		{domain.ErrNoPendingContacts, http.StatusConflict},
		{domain.ErrNoEligibleSender, http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.want {
			t.Errorf("statusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	rec := httptest.NewRecorder()
	Readyz(time.Second, ok)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	Readyz(time.Second, ok, down)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
