package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegistry_PutAndGet(t *testing.T) {
	registry := NewRegistry(5 * time.Minute)
	h := NewCompleted("testuser", nil)

	registry.Put("conn-1", h)

	if count := registry.Count(); count != 1 {
		t.Errorf("Expected 1 handshake, got %d", count)
	}

	got := registry.Get("conn-1")
	if got != h {
		t.Fatal("Get() did not return the stored handshake")
	}

	// Entries are not consumed by Get
	if registry.Get("conn-1") == nil {
		t.Error("Second Get() should still return the handshake")
	}

	registry.Delete("conn-1")
	if registry.Get("conn-1") != nil {
		t.Error("Get() should return nil after Delete()")
	}
}

func TestRegistry_GetUnknownConnection(t *testing.T) {
	registry := NewRegistry(5 * time.Minute)

	if registry.Get("unknown") != nil {
		t.Error("Get() should return nil for unknown connection")
	}
}

func TestRegistry_Replace(t *testing.T) {
	registry := NewRegistry(5 * time.Minute)
	first := NewCompleted("first", nil)
	second := NewCompleted("second", nil)

	registry.Put("conn", first)
	registry.Put("conn", second)

	if got := registry.Get("conn"); got != second {
		t.Error("Put() should replace the previous handshake")
	}
	if count := registry.Count(); count != 1 {
		t.Errorf("Expected 1 handshake, got %d", count)
	}
}

func TestRegistry_IdleExpiration(t *testing.T) {
	clock := newFakeClock()
	registry := NewRegistry(time.Minute)
	registry.now = clock.Now

	registry.Put("conn", NewCompleted("testuser", nil))

	// Use within the TTL refreshes the deadline
	clock.Advance(50 * time.Second)
	if registry.Get("conn") == nil {
		t.Fatal("Get() should return handshake before TTL")
	}
	clock.Advance(50 * time.Second)
	if registry.Get("conn") == nil {
		t.Fatal("Get() should return handshake after refresh")
	}

	clock.Advance(61 * time.Second)
	if registry.Get("conn") != nil {
		t.Error("Get() should return nil for idle handshake")
	}
	if count := registry.Count(); count != 0 {
		t.Errorf("Expected 0 handshakes after expiration, got %d", count)
	}
}

func TestRegistry_Prune(t *testing.T) {
	clock := newFakeClock()
	registry := NewRegistry(time.Minute)
	registry.now = clock.Now

	for i := 0; i < 10; i++ {
		registry.Put(fmt.Sprintf("old-%d", i), NewCompleted("testuser", nil))
	}
	clock.Advance(2 * time.Minute)
	registry.Put("fresh", NewCompleted("testuser", nil))

	registry.prune()

	if count := registry.Count(); count != 1 {
		t.Errorf("Expected 1 handshake after prune, got %d", count)
	}
	if registry.Get("fresh") == nil {
		t.Error("prune() removed a fresh handshake")
	}
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	registry := NewRegistry(time.Minute)
	registry.now = clock.Now

	registry.Put("conn", NewCompleted("testuser", nil))
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		registry.Run(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for registry.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if count := registry.Count(); count != 0 {
		t.Errorf("Expected Run() to prune idle handshake, got %d", count)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", i)
			registry.Put(id, NewCompleted("testuser", nil))
			if registry.Get(id) == nil {
				t.Errorf("Concurrent Get() for %s returned nil", id)
			}
		}(i)
	}
	wg.Wait()

	if count := registry.Count(); count != 10 {
		t.Errorf("Expected 10 handshakes, got %d", count)
	}
}
