package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultRegistryTTL is how long an idle handshake stays attached to a connection.
const DefaultRegistryTTL = 5 * time.Minute

// registryEntry holds a handshake with its idle deadline.
type registryEntry struct {
	handshake *Handshake
	expiresAt time.Time
}

// Registry attaches handshakes to connection IDs.
// It provides thread-safe storage with cleanup of idle entries.
type Registry struct {
	entries map[string]*registryEntry
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
}

// NewRegistry creates a registry whose entries are dropped after ttl without use.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put attaches h to connID, replacing any previous handshake.
func (r *Registry) Put(connID string, h *Handshake) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[connID] = &registryEntry{
		handshake: h,
		expiresAt: r.now().Add(r.ttl),
	}
}

// Get returns the handshake attached to connID and refreshes its idle deadline.
// Returns nil if there is none or it has been idle for longer than the TTL.
func (r *Registry) Get(connID string) *Handshake {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[connID]
	if !exists {
		return nil
	}

	now := r.now()
	if now.After(entry.expiresAt) {
		delete(r.entries, connID)
		return nil
	}
	entry.expiresAt = now.Add(r.ttl)

	return entry.handshake
}

// Delete detaches the handshake from connID.
func (r *Registry) Delete(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, connID)
}

// Run removes idle entries every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune()
		}
	}
}

// prune removes all idle entries.
func (r *Registry) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, entry := range r.entries {
		if now.After(entry.expiresAt) {
			entry.handshake.ClearSecrets()
			delete(r.entries, id)
		}
	}
}

// Count returns the number of attached handshakes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
