package chat

import (
	"sync"
)

// Dialer builds the connection for a sender id. It must not block.
type Dialer func(senderID string) Connection

// Registry owns the live connections of this process, keyed by sender id.
type Registry struct {
	mu    sync.RWMutex
	dial  Dialer
	conns map[string]Connection
}

func NewRegistry(dial Dialer) *Registry {
	return &Registry{dial: dial, conns: map[string]Connection{}}
}

func (r *Registry) Get(senderID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[senderID]
	return c, ok
}

// Connected returns the sender's connection only if it is currently connected.
func (r *Registry) Connected(senderID string) (Connection, bool) {
	c, ok := r.Get(senderID)
	if !ok || c.Status() != StateConnected {
		return nil, false
	}
	return c, true
}

// Open returns the existing connection or dials a new one.
func (r *Registry) Open(senderID string) Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[senderID]; ok {
		return c
	}
	c := r.dial(senderID)
	r.conns[senderID] = c
	return c
}

// Replace swaps in a fresh connection, closing the previous one.
func (r *Registry) Replace(senderID string) Connection {
	r.mu.Lock()
	old := r.conns[senderID]
	c := r.dial(senderID)
	r.conns[senderID] = c
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return c
}

func (r *Registry) Remove(senderID string) error {
	r.mu.Lock()
	c, ok := r.conns[senderID]
	delete(r.conns, senderID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
