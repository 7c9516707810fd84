package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"

	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
)

const DefaultSize = 1000

// ErrCacheCorruption reports a stored entry that does not belong to the key
// it was found under. It indicates a defect and is never retried.
type ErrCacheCorruption struct {
	Key string
}

func (e ErrCacheCorruption) Error() string {
	return fmt.Sprintf("cache corruption: entry under %s is missing or belongs to another request", e.Key)
}

type fingerprint struct {
	Text    string         `json:"text"`
	Model   string         `json:"model"`
	Options map[string]any `json:"options"`
}

// Key is the hex xxh3-128 digest of the canonical JSON encoding of the
// request. Map keys are encoded sorted, so option order never matters.
func Key(text, model string, options map[string]any) (string, error) {
	if options == nil {
		options = map[string]any{}
	}
	data, err := json.Marshal(fingerprint{Text: text, Model: model, Options: options})
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:]), nil
}

type entry[V any] struct {
	key   string
	value V
}

type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
}

// Cache is a size-bounded LRU of computed results. Concurrent misses on the
// same key share a single compute call.
type Cache[V any] struct {
	lru      *lru.Cache[string, *entry[V]]
	group    singleflight.Group
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func New[V any](size int) (*Cache[V], error) {
	if size <= 0 {
		size = DefaultSize
	}
	c := &Cache[V]{capacity: size}
	l, err := lru.NewWithEvict[string, *entry[V]](size, func(key string, _ *entry[V]) {
		c.evictions.Add(1)
		metrics.RecordCacheEviction()
		logger.Log.Debug("Cache eviction", "key", key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get returns the value stored under key and refreshes its recency.
func (c *Cache[V]) Get(key string) (V, bool, error) {
	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false, nil
	}
	if e == nil || e.key != key {
		c.lru.Remove(key)
		return zero, false, ErrCacheCorruption{Key: key}
	}
	return e.value, true, nil
}

// GetOrCompute returns the cached value for (text, model, options) or calls
// compute, stores its result and returns it. Errors from compute are
// returned and never stored. The boolean reports a cache hit.
func (c *Cache[V]) GetOrCompute(text, model string, options map[string]any, compute func() (V, error)) (V, bool, error) {
	var zero V
	key, err := Key(text, model, options)
	if err != nil {
		return zero, false, err
	}

	if v, ok, err := c.Get(key); err != nil || ok {
		if ok {
			c.hits.Add(1)
			metrics.RecordCacheHit()
		}
		return v, ok, err
	}

	shared := true
	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A flight that finished between Get and Do already stored the value.
		if v, ok, err := c.Get(key); err != nil || ok {
			return v, err
		}
		shared = false
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, &entry[V]{key: key, value: v})
		metrics.RecordCacheEntries(c.lru.Len())
		return v, nil
	})
	if !shared {
		c.misses.Add(1)
		metrics.RecordCacheMiss()
	}
	if err != nil {
		return zero, false, err
	}
	if shared {
		c.hits.Add(1)
		metrics.RecordCacheHit()
	}
	return res.(V), shared, nil
}

// Clear drops every entry; each one is reported as an eviction.
func (c *Cache[V]) Clear() {
	n := c.lru.Len()
	c.lru.Purge()
	metrics.RecordCacheEntries(0)
	logger.Log.Info("Cache cleared", "entries", n)
}

func (c *Cache[V]) Len() int { return c.lru.Len() }

func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.lru.Len(),
		Capacity:  c.capacity,
	}
}
