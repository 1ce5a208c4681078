package service

import (
	"strings"

	"github.com/gregarious/onlyinpgh-sub000/internal/models"
)

// CacheKey identifies one logical venue within a batch job: the free-text
// venue name plus a canonicalized hint tuple built from any structured
// fields the source exposed.
type CacheKey struct {
	Name string
	Hint string
}

// VenueCacheKey builds the cache key for a venue name and optional
// structured location hint.
func VenueCacheKey(name string, loc *models.Location) CacheKey {
	key := CacheKey{Name: strings.ToLower(strings.TrimSpace(name))}
	if loc != nil {
		key.Hint = strings.ToLower(strings.Join([]string{
			loc.Address, loc.Town, loc.State, loc.Postcode,
		}, "|"))
	}
	return key
}

// cacheEntry distinguishes a cached null result from a cache miss.
type cacheEntry struct {
	place *models.Place
}

// Cache memoizes venue resolution results for the lifetime of one batch
// job, so many records referencing the same physical place cost one upstream
// resolution. It has no eviction and is safe only for sequential use within
// a single job.
type Cache struct {
	entries map[CacheKey]cacheEntry
}

// NewCache creates an empty resolution cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[CacheKey]cacheEntry)}
}

// Query returns the cached place (which may be nil for a remembered
// null result) and whether the key was present.
func (c *Cache) Query(key CacheKey) (*models.Place, bool) {
	entry, ok := c.entries[key]
	return entry.place, ok
}

// Store records a resolution result, including nil for "resolution found
// nothing".
func (c *Cache) Store(key CacheKey, place *models.Place) {
	c.entries[key] = cacheEntry{place: place}
}

// GetOrResolve returns the memoized result for key, invoking fn exactly
// once per key otherwise. Errors from fn are not cached; the next call for
// the same key retries.
func (c *Cache) GetOrResolve(key CacheKey, fn func() (*models.Place, error)) (*models.Place, error) {
	if place, ok := c.Query(key); ok {
		return place, nil
	}
	place, err := fn()
	if err != nil {
		return nil, err
	}
	c.Store(key, place)
	return place, nil
}

// Len returns the number of memoized keys.
func (c *Cache) Len() int {
	return len(c.entries)
}
