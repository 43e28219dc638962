// Package cache keeps collaborator responses in memory for a bounded time.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Entry represents a cached response
type Entry struct {
	Key       string      `json:"key"`
	Response  interface{} `json:"response"`
	CachedAt  time.Time   `json:"cached_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Hits      int64       `json:"hits"`
}

// Config defines cache configuration
type Config struct {
	DefaultTTL    time.Duration // time-to-live when Set is given none
	MaxSize       int           // maximum number of entries
	CleanupPeriod time.Duration // how often expired entries are purged; 0 disables
}

// DefaultConfig returns sensible defaults for caching
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:    1 * time.Hour,
		MaxSize:       5000,
		CleanupPeriod: 5 * time.Minute,
	}
}

// Stats tracks cache performance
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
	TotalEntries int64   `json:"total_entries"`
	HitRate      float64 `json:"hit_rate"`
}

// Cache is an in-memory TTL cache. The oldest entry is evicted when the
// cache is full.
type Cache struct {
	config  *Config
	entries map[string]*Entry
	mu      sync.RWMutex
	stats   Stats
	stop    chan struct{}
	once    sync.Once
}

// New creates a new in-memory cache instance
func New(config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}

	c := &Cache{
		config:  config,
		entries: make(map[string]*Entry),
		stop:    make(chan struct{}),
	}

	// Start background cleanup goroutine
	if config.CleanupPeriod > 0 {
		go c.cleanupLoop()
	}

	return c
}

// GenerateKey creates a cache key from a namespace and request parameters
func GenerateKey(namespace string, request interface{}) (string, error) {
	// Serialize request to JSON for consistent hashing
	reqBytes, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	hasher := sha256.New()
	hasher.Write([]byte(namespace))
	hasher.Write([]byte(":"))
	hasher.Write(reqBytes)

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Get retrieves a cached response if available and not expired
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if exists && time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		exists = false
	}
	if !exists {
		c.stats.Misses++
		return nil, false
	}

	entry.Hits++
	c.stats.Hits++
	return entry, true
}

// Set stores a response in the cache
func (c *Cache) Set(ctx context.Context, key string, response interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, replacing := c.entries[key]; !replacing && len(c.entries) >= c.config.MaxSize {
		c.evictOldest()
	}
	c.entries[key] = &Entry{
		Key:       key,
		Response:  response,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// GetStats returns current cache statistics
func (c *Cache) GetStats(ctx context.Context) *Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.TotalEntries = int64(len(c.entries))

	// Calculate hit rate
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	return &stats
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// cleanupLoop periodically removes expired entries
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup removes expired entries
func (c *Cache) cleanup() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOldest removes the oldest entry. Callers hold mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entry := range c.entries {
		if first || entry.CachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CachedAt
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}
