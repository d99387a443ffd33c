// Package cache provides result caching and windowed counters for the risk
// engine: an in-process LRU, Redis, and a two-phase combination of both.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// ErrTenantRequired is returned when a call omits the tenant id.
var ErrTenantRequired = errors.New("tenantID is required")

// LRUCache is a thread-safe LRU cache with per-entry TTL.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	recency  *list.List
	windows  map[string]*window

	hits   int64
	misses int64
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type window struct {
	count     int64
	expiresAt time.Time
}

// Stats is a point-in-time view of an LRU cache.
type Stats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

var _ domain.Cache = (*LRUCache)(nil)

// NewLRUCache creates an LRU cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
		windows:  make(map[string]*window),
	}
}

// Get returns nil, nil on a miss or an expired entry.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	k := tenantKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		c.misses++
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	c.hits++
	return entry.value, nil
}

// Set stores value for ttl, evicting the least recently used entries over capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	k := tenantKey(tenantID, key)
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[k]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[k] = c.recency.PushFront(&lruEntry{key: k, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.capacity {
		c.evict(c.recency.Back())
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[tenantKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetResult returns a cached aggregate result, or nil on a miss.
func (c *LRUCache) GetResult(ctx context.Context, tenantID string, key string) (*domain.AggregateResult, error) {
	data, err := c.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	return decodeResult(data)
}

// SetResult caches an aggregate result.
func (c *LRUCache) SetResult(ctx context.Context, tenantID string, key string, result *domain.AggregateResult, ttl time.Duration) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, key, data, ttl)
}

// IncrementCounter counts events in a fixed window that opens on the first
// increment. Counters are local to this process.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, w time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}
	k := tenantKey(tenantID, "counter:"+key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.windows[k]
	if !ok || now.After(cur.expiresAt) {
		c.windows[k] = &window{count: 1, expiresAt: now.Add(w)}
		return 1, nil
	}
	cur.count++
	return cur.count, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency = list.New()
	c.windows = make(map[string]*window)
	return nil
}

// Stats returns size, capacity and hit counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:     c.recency.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

func (c *LRUCache) evict(elem *list.Element) {
	if elem == nil {
		return
	}
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}

func tenantKey(tenantID, key string) string {
	return tenantID + ":" + key
}
