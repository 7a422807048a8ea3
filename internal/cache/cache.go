// Package cache fronts the per-customer weather lookups. Keys are rounded
// coordinates, so customers sharing a location resolve to one upstream call
// per TTL window.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/sales-pipeline/internal/models"
)

// Cache is the interface for weather observation caching backends.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherObservation, bool, error)
	Set(ctx context.Context, key string, value models.WeatherObservation, ttl time.Duration) error
}

// CoordKey builds a cache key from coordinates rounded to four decimal
// places (roughly 11m), the precision the directory API provides.
func CoordKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// InMemoryCache implements Cache with a mutex-guarded map. The weather
// extractor runs multiple fetcher goroutines against one cache instance.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     models.WeatherObservation
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves a cached observation if present and not expired. Expired
// entries are removed on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherObservation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.WeatherObservation{}, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.WeatherObservation{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores an observation with the specified TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherObservation, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
