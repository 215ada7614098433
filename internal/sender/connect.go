package sender

import (
	"context"
	"log/slog"

	"chatdispatch/internal/chat"
	"chatdispatch/internal/domain"
)

// Connect (re)starts the sender's session and watches its events in the
// background. The watch outlives ctx's cancellation but keeps its values.
func (m *Manager) Connect(ctx context.Context, id string) error {
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	conn := m.Registry.Replace(id)
	events, err := conn.Connect(context.WithoutCancel(ctx))
	if err != nil {
		if _, uerr := m.MarkDisconnected(ctx, id); uerr != nil {
			slog.Warn("mark sender disconnected failed", "sender_id", id, "err", uerr)
		}
		return err
	}
	go m.watch(context.WithoutCancel(ctx), id, events)
	return nil
}

func (m *Manager) watch(ctx context.Context, id string, events <-chan chat.Event) {
	for ev := range events {
		m.handleEvent(ctx, id, ev)
	}
}

func (m *Manager) handleEvent(ctx context.Context, id string, ev chat.Event) {
	switch ev.Kind {
	case chat.EventQR:
		if m.QR == nil {
			return
		}
		if err := m.QR.PutQR(ctx, id, ev.QR); err != nil {
			slog.Warn("cache qr failed", "sender_id", id, "err", err)
		}
	case chat.EventStatus:
		var (
			s   domain.Sender
			err error
		)
		switch ev.Status {
		case chat.SessionOpen:
			if m.QR != nil {
				_ = m.QR.DeleteQR(ctx, id)
			}
			s, err = m.UpdateStatus(ctx, id, domain.SenderConnected)
		case chat.SessionClosed:
			s, err = m.MarkDisconnected(ctx, id)
		default:
			return
		}
		if err != nil {
			slog.Warn("update sender status failed", "sender_id", id, "session", ev.Status, "err", err)
			return
		}
		slog.Info("sender session status", "sender_id", id, "session", ev.Status, "status", s.Status)
	}
}

// RestoreSessions reconnects every active sender. Banned and auto-paused senders
// wait for a manual connect. Failures are logged and leave the sender disconnected.
func (m *Manager) RestoreSessions(ctx context.Context) (restored int, err error) {
	senders, err := m.Store.ListActiveSenders(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range senders {
		if s.Status == domain.SenderBanned || s.Status == domain.SenderPaused {
			continue
		}
		if err := m.Connect(ctx, s.ID); err != nil {
			slog.Warn("restore session failed", "sender_id", s.ID, "err", err)
			continue
		}
		restored++
	}
	return restored, nil
}
