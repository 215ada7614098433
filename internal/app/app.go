// Package app builds the collaborators shared by the api and worker processes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatdispatch/internal/cache"
	"chatdispatch/internal/chat"
	"chatdispatch/internal/config"
	"chatdispatch/internal/providers/bridge"
	"chatdispatch/internal/sender"
	"chatdispatch/internal/service"
	"chatdispatch/internal/store/memstore"
	"chatdispatch/internal/store/pg"
	"chatdispatch/internal/worker"
)

// Backend is everything the services need from persistence.
type Backend interface {
	sender.Store
	service.CampaignStore
	service.BroadcastStore
	service.BlocklistStore
	worker.Store
	Ping(ctx context.Context) error
}

var (
	_ Backend = (*pg.Store)(nil)
	_ Backend = (*memstore.Store)(nil)
)

// OpenStore returns the configured backend and a close func.
func OpenStore(ctx context.Context, service string, cfg config.Common) (Backend, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		slog.Warn("using in-memory store, data is lost on exit")
		return memstore.New(), func() {}, nil
	}

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.MaxConns,
		MinConns:          cfg.MinConns,
		MaxConnLifetime:   cfg.MaxConnLifetime,
		MaxConnIdleTime:   cfg.MaxConnIdleTime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
		ApplicationName:   "chatdispatch-" + service,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("db pool: %w", err)
	}
	st := pg.New(db)

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(startupCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db not reachable: %w", err)
	}
	if err := st.Migrate(startupCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db migrate: %w", err)
	}
	return st, db.Close, nil
}

// NewRegistry wires the bridge gateway, behind a circuit breaker, as the
// connection dialer.
func NewRegistry(cfg config.Common) *chat.Registry {
	gw := &bridge.Gateway{
		BaseURL:      cfg.BridgeBaseURL,
		Token:        cfg.BridgeToken,
		HTTP:         &http.Client{Timeout: cfg.BridgeTimeout},
		Breaker:      bridge.NewBreaker("bridge"),
		PollInterval: cfg.BridgePollInterval,
	}
	return chat.NewRegistry(gw.Dialer())
}

// NewQRCache uses redis when REDIS_ADDR is set so every process sees the same
// challenge.
func NewQRCache(ctx context.Context, cfg config.Common) (cache.QRCache, func(), error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryQRCache(cfg.QRTTL), func() {}, nil
	}
	client, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedisQRCache(client, cfg.QRTTL), func() { _ = client.Close() }, nil
}

// RestoreSessions reconnects saved senders without blocking startup.
func RestoreSessions(ctx context.Context, m *sender.Manager) {
	go func() {
		n, err := m.RestoreSessions(ctx)
		if err != nil {
			slog.Error("restore sessions failed", "err", err)
			return
		}
		slog.Info("sessions restored", "count", n)
	}()
}
