package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

var _ Cache = (*Memory)(nil)

// Memory is a process-local cache for single-node deployments and tests.
type Memory struct {
	mu    sync.Mutex
	items *ttlcache.Cache[string, []byte]
}

// NewMemory creates a cache and starts its expiry loop. Call Close to stop it.
func NewMemory() *Memory {
	items := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go items.Start()
	return &Memory{items: items}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := m.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.items.Set(key, val, ttl)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item := m.items.Get(key); item != nil && !item.IsExpired() {
		return false, nil
	}
	m.items.Set(key, val, ttl)
	return true, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.items.Delete(key)
	}
	return nil
}

func (m *Memory) Close() {
	m.items.Stop()
}

// Nop is an always-empty cache. Every component must stay correct with it.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Nop) SetNX(context.Context, string, []byte, time.Duration) (bool, error) { return true, nil }

func (Nop) Delete(context.Context, ...string) error { return nil }
