package bridge

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"chatdispatch/internal/chat"
	"chatdispatch/internal/observability"
)

// Session is the chat.Connection of one sender, backed by the gateway.
type Session struct {
	gw       *Gateway
	senderID string

	state atomic.Value // chat.ConnState

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ chat.Connection = (*Session)(nil)

func (g *Gateway) Session(senderID string) *Session {
	s := &Session{gw: g, senderID: senderID}
	s.state.Store(chat.StateDisconnected)
	return s
}

// Dialer adapts the gateway for chat.NewRegistry.
func (g *Gateway) Dialer() chat.Dialer {
	return func(senderID string) chat.Connection { return g.Session(senderID) }
}

func (s *Session) Status() chat.ConnState { return s.state.Load().(chat.ConnState) }

func (s *Session) Connect(ctx context.Context) (<-chan chat.Event, error) {
	var st sessionState
	if err := s.gw.do(ctx, http.MethodPost, s.gw.endpoint(s.senderID, "start"), nil, &st); err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	events := make(chan chat.Event, 4)
	go s.poll(pollCtx, st, events)
	return events, nil
}

func (s *Session) poll(ctx context.Context, first sessionState, events chan<- chat.Event) {
	defer close(events)

	var lastStatus, lastQR string
	emit := func(st sessionState) bool {
		if st.QR != "" && st.QR != lastQR {
			lastQR = st.QR
			if !send(ctx, events, chat.Event{Kind: chat.EventQR, QR: st.QR}) {
				return false
			}
		}
		if st.Status != "" && st.Status != lastStatus {
			lastStatus = st.Status
			status := chat.SessionStatus(st.Status)
			s.track(status)
			if !send(ctx, events, chat.Event{Kind: chat.EventStatus, Status: status}) {
				return false
			}
			if status == chat.SessionClosed {
				return false
			}
		}
		return true
	}

	if !emit(first) {
		return
	}
	t := time.NewTicker(s.gw.pollInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		var st sessionState
		if err := s.gw.do(ctx, http.MethodGet, s.gw.endpoint(s.senderID), nil, &st); err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if !emit(st) {
			return
		}
	}
}

func send(ctx context.Context, ch chan<- chat.Event, ev chat.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) track(status chat.SessionStatus) {
	switch status {
	case chat.SessionOpen:
		s.state.Store(chat.StateConnected)
	case chat.SessionClosed:
		s.state.Store(chat.StateDisconnected)
	}
}

func (s *Session) Send(ctx context.Context, to, text string) (string, error) {
	var out sendResponse
	start := time.Now()
	err := s.gw.do(ctx, http.MethodPost, s.gw.endpoint(s.senderID, "messages"), sendRequest{
		To:   chat.JID(to),
		Text: text,
	}, &out)
	observability.SendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", &chat.SendError{To: to, Err: err}
	}
	return out.ID, nil
}

func (s *Session) UpdatePresence(ctx context.Context, state chat.Presence, to string) error {
	return s.gw.do(ctx, http.MethodPost, s.gw.endpoint(s.senderID, "presence"), presenceRequest{
		To:    chat.JID(to),
		State: string(state),
	}, nil)
}

// Close stops status polling. The remote session is left running.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// Logout tears the remote session down.
func (s *Session) Logout(ctx context.Context) error {
	_ = s.Close()
	s.state.Store(chat.StateDisconnected)
	return s.gw.do(ctx, http.MethodDelete, s.gw.endpoint(s.senderID), nil, nil)
}
