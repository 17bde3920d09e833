package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry   Entry
	expires time.Time
}

// Memory is an in-process Cache
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		clock: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return Entry{}, false
	}
	if !m.clock().Before(item.expires) {
		delete(m.items, key)
		return Entry{}, false
	}
	return item.entry, true
}

func (m *Memory) Set(_ context.Context, key string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = memoryItem{entry: entry, expires: m.clock().Add(ttl)}
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
}
