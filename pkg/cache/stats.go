package cache

import "sync/atomic"

// Statistics tracks cache activity.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// Hits returns the number of fresh lookups.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of lookups that found nothing fresh.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the number of inserts and replacements.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Evictions returns the number of entries removed by size or age.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func (c *Hybrid[V]) recordHit() {
	c.stats.hits.Add(1)
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
}

func (c *Hybrid[V]) recordMiss() {
	c.stats.misses.Add(1)
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

func (c *Hybrid[V]) recordEviction(size int) {
	c.stats.evictions.Add(1)
	if c.metrics != nil {
		c.metrics.evictions.Inc()
	}
	c.updateSize(size)
}

func (c *Hybrid[V]) updateSize(size int) {
	if c.metrics != nil {
		c.metrics.size.Set(float64(size))
	}
}
