package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/metric"
	"github.com/c360/skystream/pkg/cache"
)

// Cache defaults.
const (
	DefaultCacheMax = 1000
	DefaultCacheTTL = time.Hour
	GroupSize       = 100
)

// CacheConfig sizes the cache.
type CacheConfig struct {
	MaxSize   int
	TTL       time.Duration
	GroupSize int
	// CleanupInterval is how often expired profiles are swept. Zero means once per
	// TTL; negative leaves them to be dropped on lookup.
	CleanupInterval time.Duration
}

// CacheOption configures a Cache.
type CacheOption func(*cacheSettings)

type cacheSettings struct {
	now        func() time.Time
	logger     *slog.Logger
	metricsReg metric.MetricsRegistrar
	component  string
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(s *cacheSettings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(s *cacheSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics exports hit, miss and eviction metrics under component.
func WithMetrics(registry metric.MetricsRegistrar, component string) CacheOption {
	return func(s *cacheSettings) {
		s.metricsReg = registry
		s.component = component
	}
}

// Cache resolves profiles, serving entries younger than the TTL from memory.
// It is safe for concurrent use.
type Cache struct {
	fetcher   Fetcher
	resolver  HandleResolver
	entries   *cache.Hybrid[Profile]
	groupSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewCache creates a cache over fetcher and resolver. Zero config values take the
// defaults.
func NewCache(fetcher Fetcher, resolver HandleResolver, cfg CacheConfig, opts ...CacheOption) (*Cache, error) {
	if fetcher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "profile.Cache", "New", "nil fetcher")
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultCacheMax
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.GroupSize <= 0 || cfg.GroupSize > GroupSize {
		cfg.GroupSize = GroupSize
	}

	s := &cacheSettings{now: time.Now, logger: slog.Default(), component: "profile_cache"}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = cfg.TTL
	}

	hybridOpts := []cache.Option[Profile]{cache.WithClock[Profile](s.now)}
	if cfg.CleanupInterval > 0 {
		hybridOpts = append(hybridOpts, cache.WithCleanup[Profile](context.Background(), cfg.CleanupInterval))
	}
	if s.metricsReg != nil {
		hybridOpts = append(hybridOpts, cache.WithMetrics[Profile](s.metricsReg, s.component))
	}
	entries, err := cache.NewHybrid[Profile](cfg.MaxSize, cfg.TTL, hybridOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "profile.Cache", "New", "create cache")
	}

	return &Cache{
		fetcher:   fetcher,
		resolver:  resolver,
		entries:   entries,
		groupSize: cfg.GroupSize,
		now:       s.now,
		logger:    s.logger.With("component", s.component),
	}, nil
}

// ResolveMany returns profiles for the distinct DIDs in dids: fresh cache hits first,
// then fetched profiles in request order. DIDs the upstream does not know are absent.
// Misses are fetched one group at a time; a failed group aborts the call.
func (c *Cache) ResolveMany(ctx context.Context, dids []string) ([]Profile, error) {
	seen := make(map[string]struct{}, len(dids))
	var found []Profile
	var missing []string

	for _, did := range dids {
		if _, dup := seen[did]; dup {
			continue
		}
		seen[did] = struct{}{}

		if p, insertedAt, ok := c.entries.GetWithTime(did); ok {
			p.InsertedAt = insertedAt
			found = append(found, p)
			continue
		}
		missing = append(missing, did)
	}

	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	return append(found, fetched...), nil
}

func (c *Cache) fetch(ctx context.Context, dids []string) ([]Profile, error) {
	var out []Profile
	for start := 0; start < len(dids); start += c.groupSize {
		end := min(start+c.groupSize, len(dids))

		profiles, err := c.fetcher.GetProfiles(ctx, dids[start:end])
		if err != nil {
			return nil, errors.Wrap(err, "profile.Cache", "fetch", fmt.Sprintf("fetch group of %d", end-start))
		}

		for _, p := range profiles {
			p.InsertedAt = c.now()
			if _, err := c.entries.Set(p.DID, p); err != nil {
				c.logger.Debug("Skipping profile without DID", "handle", p.Handle, "error", err)
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// ResolveOne returns the profile for did. ErrProfileNotFound when the upstream has none.
func (c *Cache) ResolveOne(ctx context.Context, did string) (Profile, error) {
	if p, insertedAt, ok := c.entries.GetWithTime(did); ok {
		p.InsertedAt = insertedAt
		return p, nil
	}

	fetched, err := c.fetch(ctx, []string{did})
	if err != nil {
		return Profile{}, err
	}
	for _, p := range fetched {
		if p.DID == did {
			return p, nil
		}
	}
	return Profile{}, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrProfileNotFound, did),
		"profile.Cache", "ResolveOne", "lookup")
}

// ResolveByHandle resolves handle to a DID and returns that DID's profile.
func (c *Cache) ResolveByHandle(ctx context.Context, handle string) (Profile, error) {
	if c.resolver == nil {
		return Profile{}, errors.WrapInvalid(errors.ErrMissingConfig, "profile.Cache", "ResolveByHandle", "no handle resolver")
	}
	did, err := c.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return Profile{}, err
	}
	if did == "" {
		return Profile{}, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrHandleNotFound, handle),
			"profile.Cache", "ResolveByHandle", "resolve handle")
	}
	return c.ResolveOne(ctx, did)
}

// Len returns the number of cached profiles, fresh or not.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Close releases the cache.
func (c *Cache) Close() error {
	return c.entries.Close()
}
