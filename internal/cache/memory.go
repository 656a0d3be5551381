package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Cache for development and tests.
type Memory struct {
	mu     sync.Mutex
	items  map[string]memItem
	minTTL time.Duration
	now    func() time.Time
}

type memItem struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates a Memory cache. A nil now uses time.Now.
func NewMemory(minTTL time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: map[string]memItem{}, minTTL: minTTL, now: now}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return "", false, nil
	}
	return item.value, true, nil
}

func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.cleanupLocked(now)
	m.items[key] = memItem{value: value, expiresAt: now.Add(applyFloor(ttl, m.minTTL))}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) MinTTL() time.Duration { return m.minTTL }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) cleanupLocked(now time.Time) {
	for k, v := range m.items {
		if !now.Before(v.expiresAt) {
			delete(m.items, k)
		}
	}
}
