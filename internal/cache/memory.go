package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is a process-local Provider with TTL expiry and a bounded
// entry count. When full, the entry closest to expiry is evicted first so
// unbounded growth cannot occur even under a churn of distinct keys.
type MemoryProvider struct {
	mu         sync.RWMutex
	data       map[string]item
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
}

type item struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates a bounded in-memory cache. maxEntries <= 0 falls
// back to 4096; defaultTTL <= 0 means entries without an explicit TTL live
// for one hour.
func NewMemoryProvider(maxEntries int, defaultTTL time.Duration) *MemoryProvider {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryProvider{
		data:       make(map[string]item),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached bytes or ErrCacheMiss when absent or expired.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	it, ok := p.data[key]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if p.now().After(it.expiresAt) {
		p.mu.Lock()
		delete(p.data, key)
		p.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores bytes under key, evicting if the cache is at capacity.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = p.defaultTTL
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.data[key]; !exists && len(p.data) >= p.maxEntries {
		p.evictLocked()
	}
	p.data[key] = item{
		value:     append([]byte(nil), value...),
		expiresAt: p.now().Add(ttl),
	}
	return nil
}

// Del removes a key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.data, key)
	p.mu.Unlock()
	return nil
}

// Flush drops every entry.
func (p *MemoryProvider) Flush(context.Context) error {
	p.mu.Lock()
	p.data = make(map[string]item)
	p.mu.Unlock()
	return nil
}

// Close releases the cache contents.
func (p *MemoryProvider) Close() error {
	return p.Flush(context.Background())
}

// Len reports the current entry count.
func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.data)
}

// evictLocked removes expired entries, then the entry closest to expiry
// until below capacity. Caller holds the write lock.
func (p *MemoryProvider) evictLocked() {
	now := p.now()
	for key, it := range p.data {
		if now.After(it.expiresAt) {
			delete(p.data, key)
		}
	}
	for len(p.data) >= p.maxEntries {
		var victim string
		var soonest time.Time
		for key, it := range p.data {
			if victim == "" || it.expiresAt.Before(soonest) {
				victim = key
				soonest = it.expiresAt
			}
		}
		delete(p.data, victim)
	}
}
