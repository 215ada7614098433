// Package cache keeps short-lived pairing challenges so any API replica can
// serve the QR of a session another replica started.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const qrKeyPrefix = "qr:"

type QRCache interface {
	PutQR(ctx context.Context, senderID, qr string) error
	GetQR(ctx context.Context, senderID string) (string, bool, error)
	DeleteQR(ctx context.Context, senderID string) error
}

type redisQRCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisQRCache(client *redis.Client, ttl time.Duration) QRCache {
	return &redisQRCache{client: client, ttl: ttl}
}

func (r *redisQRCache) PutQR(ctx context.Context, senderID, qr string) error {
	return r.client.Set(ctx, qrKeyPrefix+senderID, qr, r.ttl).Err()
}

func (r *redisQRCache) GetQR(ctx context.Context, senderID string) (string, bool, error) {
	v, err := r.client.Get(ctx, qrKeyPrefix+senderID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *redisQRCache) DeleteQR(ctx context.Context, senderID string) error {
	return r.client.Del(ctx, qrKeyPrefix+senderID).Err()
}

// MemoryQRCache is the single-process fallback when no redis is configured.
type MemoryQRCache struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]qrEntry
}

type qrEntry struct {
	qr      string
	expires time.Time
}

func NewMemoryQRCache(ttl time.Duration) *MemoryQRCache {
	return &MemoryQRCache{TTL: ttl, Now: time.Now, entries: map[string]qrEntry{}}
}

func (m *MemoryQRCache) PutQR(ctx context.Context, senderID, qr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[senderID] = qrEntry{qr: qr, expires: m.Now().Add(m.TTL)}
	return nil
}

func (m *MemoryQRCache) GetQR(ctx context.Context, senderID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[senderID]
	if !ok {
		return "", false, nil
	}
	if m.TTL > 0 && !m.Now().Before(e.expires) {
		delete(m.entries, senderID)
		return "", false, nil
	}
	return e.qr, true, nil
}

func (m *MemoryQRCache) DeleteQR(ctx context.Context, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, senderID)
	return nil
}
