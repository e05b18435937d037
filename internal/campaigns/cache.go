package campaigns

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source provides campaign reads from the registry.
type Source interface {
	Count(ctx context.Context) (uint64, error)
	Get(ctx context.Context, id uint64) (Campaign, error)
}

// CacheOptions tune the snapshot cache.
type CacheOptions struct {
	TTL time.Duration
}

// Cache holds a TTL-bounded snapshot of the active-campaign list. Concurrent
// refreshes are allowed; the last writer wins, which is acceptable because
// each refresh reads the same remote state.
type Cache struct {
	source Source
	ttl    time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	snapshot  []Campaign
	fetchedAt time.Time
}

// NewCache builds a campaign cache over the given source.
func NewCache(source Source, opts CacheOptions, logger zerolog.Logger) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		logger: logger.With().Str("component", "campaign_cache").Logger(),
	}
}

// Active returns the active-campaign list, its cached flag, and the snapshot
// timestamp. A fresh snapshot is fetched when the cached one has expired. An
// error fetching the campaign count fails the whole call; a failure on one
// individual campaign is logged and skipped.
func (c *Cache) Active(ctx context.Context) ([]Campaign, bool, time.Time, error) {
	c.mu.Lock()
	if c.snapshot != nil && time.Since(c.fetchedAt) < c.ttl {
		snapshot, fetchedAt := c.snapshot, c.fetchedAt
		c.mu.Unlock()
		return snapshot, true, fetchedAt, nil
	}
	c.mu.Unlock()

	fresh, err := c.fetchActive(ctx)
	if err != nil {
		return nil, false, time.Time{}, err
	}

	now := time.Now()
	c.mu.Lock()
	c.snapshot = fresh
	c.fetchedAt = now
	c.mu.Unlock()

	return fresh, false, now, nil
}

func (c *Cache) fetchActive(ctx context.Context) ([]Campaign, error) {
	count, err := c.source.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("campaign count: %w", err)
	}

	now := time.Now()
	active := make([]Campaign, 0, count)
	for id := uint64(1); id <= count; id++ {
		campaign, err := c.source.Get(ctx, id)
		if err != nil {
			c.logger.Warn().Err(err).Uint64("campaign_id", id).Msg("skipping unreadable campaign")
			continue
		}
		if campaign.Status(now) == StatusActive {
			active = append(active, campaign)
		}
	}

	c.logger.Debug().Uint64("total", count).Int("active", len(active)).Msg("campaign snapshot refreshed")
	return active, nil
}
