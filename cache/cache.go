// Package cache provides a namespace-scoped, TTL-based, advisory cache for
// dynamic pipeline configuration (steps, document classes, models, system
// settings, OCR configuration).
//
// It generalizes a sha256-hashed-key, map+TTL, background-sweep cache to
// `any` values across five named namespaces with bulk per-namespace
// invalidation, plus a circuit-style self-disable: once consecutive
// storage errors cross a threshold the cache reports unhealthy and fails
// closed until a success resets the counter.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Namespace groups keys that are invalidated together.
type Namespace string

const (
	NamespacePipelineSteps   Namespace = "pipeline_steps"
	NamespaceDocumentClasses Namespace = "document_classes"
	NamespaceAvailableModels Namespace = "available_models"
	NamespaceSystemSettings  Namespace = "system_settings"
	NamespaceOCRConfig       Namespace = "ocr_config"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Stats summarizes hit/miss/eviction counters for a health/metrics endpoint.
type Stats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
	Healthy   bool
}

// Cache is a process-wide, namespace-scoped key/value store with TTL
// expiry and a self-disable health signal.
type Cache struct {
	mu    sync.RWMutex
	items map[Namespace]map[string]entry
	stats Stats

	maxConsecutiveErrors int
	consecutiveErrors    int
	healthy              bool

	stop chan struct{}
}

// New constructs a cache with a background sweep every cleanupInterval.
// maxConsecutiveErrors controls how many consecutive read/write errors
// (there currently are none in the in-memory implementation, but the
// field exists so a future Redis-backed Cache can share this health
// contract) mark the cache unhealthy and stop serving.
func New(cleanupInterval time.Duration, maxConsecutiveErrors int) *Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = 5
	}
	c := &Cache{
		items:                make(map[Namespace]map[string]entry),
		maxConsecutiveErrors: maxConsecutiveErrors,
		healthy:              true,
		stop:                 make(chan struct{}),
	}
	go c.sweepLoop(cleanupInterval)
	return c
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])[:16]
}

// Get returns the cached value for (namespace, key) and whether it was
// present and unexpired. Always fails closed (ok=false) when the cache has
// self-marked unhealthy, so callers fall back to storage.
func (c *Cache) Get(ns Namespace, key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.healthy {
		return nil, false
	}

	bucket, ok := c.items[ns]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e, ok := bucket[hashKey(key)]
	if !ok || time.Now().After(e.expiresAt) {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores a value under (namespace, key) with the given TTL.
func (c *Cache) Set(ns Namespace, key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.items[ns]
	if !ok {
		bucket = make(map[string]entry)
		c.items[ns] = bucket
	}
	bucket[hashKey(key)] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// InvalidateNamespace drops every key in one namespace — called by admin
// writes that change steps, classes, models, settings, or OCR config.
func (c *Cache) InvalidateNamespace(ns Namespace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, ns)
}

// RecordError increments the consecutive-error counter and self-disables
// the cache once the threshold is reached; callers of a future networked
// backend invoke this on every failed round-trip.
func (c *Cache) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrors++
	if c.consecutiveErrors >= c.maxConsecutiveErrors {
		c.healthy = false
	}
}

// RecordSuccess resets the consecutive-error counter and re-marks the
// cache healthy.
func (c *Cache) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrors = 0
	c.healthy = true
}

// Healthy reports the current self-disable status.
func (c *Cache) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	size := 0
	for _, bucket := range c.items {
		size += len(bucket)
	}
	s := c.stats
	s.Size = size
	s.Healthy = c.healthy
	return s
}

// Close stops the background sweep goroutine.
func (c *Cache) Close() { close(c.stop) }

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for ns, bucket := range c.items {
		for k, e := range bucket {
			if now.After(e.expiresAt) {
				delete(bucket, k)
				c.stats.Evictions++
			}
		}
		if len(bucket) == 0 {
			delete(c.items, ns)
		}
	}
}
