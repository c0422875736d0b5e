// Package profile caches user profiles fetched lazily by id.
package profile

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/chatsync/internal/metrics"
)

// DefaultTTL is how long a fetched profile stays fresh.
const DefaultTTL = 5 * time.Minute

// PlaceholderName is shown for users whose profile could not be fetched.
const PlaceholderName = "Unknown user"

// Profile is the cached user metadata.
type Profile struct {
	ID          int64
	Username    string
	DisplayName string
	Phone       string
	FetchedAt   time.Time

	// Stale is set when a lookup failed and an expired entry was returned.
	Stale bool
	// Placeholder is set when a lookup failed and nothing was cached.
	Placeholder bool
}

// Name returns the best display name.
func (p Profile) Name() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Username != "":
		return p.Username
	case p.Placeholder:
		return PlaceholderName
	}
	return "User " + strconv.FormatInt(p.ID, 10)
}

// Lookup fetches one profile from the backend.
type Lookup interface {
	User(ctx context.Context, id int64) (Profile, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, id int64) (Profile, error)

// User implements Lookup.
func (fn LookupFunc) User(ctx context.Context, id int64) (Profile, error) { return fn(ctx, id) }

// Cache is a TTL cache in front of a Lookup. Concurrent misses for the same
// id share one lookup. Failed lookups are never cached.
type Cache struct {
	lookup  Lookup
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	sf      singleflight.Group
	mu      sync.RWMutex
	entries map[int64]Profile
}

// NewCache creates a cache. A non-positive ttl means DefaultTTL.
func NewCache(lookup Lookup, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		lookup:  lookup,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.Named("profile"),
		metrics: m,
		entries: make(map[int64]Profile),
	}
}

// Get returns the user's profile. A fresh cached entry is returned as is.
// Otherwise the profile is fetched; if that fails, the expired entry is
// returned marked Stale, or a Placeholder when there is none.
func (c *Cache) Get(ctx context.Context, id int64) Profile {
	c.mu.RLock()
	cached, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && c.now().Sub(cached.FetchedAt) < c.ttl {
		c.metrics.ProfileLookup("hit")
		return cached
	}

	v, err, _ := c.sf.Do(strconv.FormatInt(id, 10), func() (any, error) {
		p, err := c.lookup.User(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lookup user %d: %w", id, err)
		}
		p.ID = id
		p.FetchedAt = c.now()
		p.Stale, p.Placeholder = false, false
		c.mu.Lock()
		c.entries[id] = p
		c.mu.Unlock()
		return p, nil
	})
	if err == nil {
		c.metrics.ProfileLookup("miss")
		return v.(Profile)
	}

	c.logger.Warn("profile lookup failed", zap.Int64("user", id), zap.Error(err))
	if ok {
		c.metrics.ProfileLookup("stale")
		cached.Stale = true
		return cached
	}
	c.metrics.ProfileLookup("placeholder")
	return Profile{ID: id, Placeholder: true}
}

// Peek returns the cached entry without fetching, fresh or not.
func (c *Cache) Peek(id int64) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

// Put stores a profile obtained elsewhere, such as the username carried by
// a frame.
func (c *Cache) Put(p Profile) {
	if p.ID <= 0 {
		return
	}
	p.FetchedAt = c.now()
	p.Stale, p.Placeholder = false, false
	c.mu.Lock()
	c.entries[p.ID] = p
	c.mu.Unlock()
}

// Invalidate drops one entry.
func (c *Cache) Invalidate(id int64) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[int64]Profile)
	c.mu.Unlock()
}
