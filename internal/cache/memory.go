package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryClient is an in-memory RedisClient with the same atomicity
// guarantees as the go-redis adapter. Tests inject it in place of a
// live Redis.
type MemoryClient struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
	lists  map[string][][]byte
	zsets  map[string]map[string]float64
}

// NewMemoryClient creates an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		values: make(map[string][]byte),
		ttls:   make(map[string]time.Duration),
		lists:  make(map[string][][]byte),
		zsets:  make(map[string]map[string]float64),
	}
}

func (m *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *MemoryClient) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
		delete(m.ttls, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *MemoryClient) LPush(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([][]byte{value}, m.lists[key]...)
	return nil
}

func (m *MemoryClient) LRangeDel(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[key]
	delete(m.lists, key)
	return items, nil
}

func (m *MemoryClient) ZAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

func (m *MemoryClient) ZPopByScore(_ context.Context, key string, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []string
	for member, score := range m.zsets[key] {
		if score <= max {
			due = append(due, member)
		}
	}
	for _, member := range due {
		delete(m.zsets[key], member)
	}
	return due, nil
}

// TTL reports the TTL recorded for key by the last Set. Test helper.
func (m *MemoryClient) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

// ZCard reports the member count of the sorted set at key. Test helper.
func (m *MemoryClient) ZCard(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.zsets[key])
}

// ListLen reports the length of the list at key. Test helper.
func (m *MemoryClient) ListLen(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[key])
}
