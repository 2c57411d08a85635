// Package depositcache is the shared read-path cache: one decoded record set
// per backend+network, refreshed by full scans. Concurrent readers of a
// stale entry coalesce onto a single in-flight scan, and a failed scan
// degrades to previously cached data instead of an error.
package depositcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dielemma/custody/internal/custody"
)

// DefaultTTL is how long a scan result is served without refetching.
const DefaultTTL = 30 * time.Second

// FetchFunc performs one full scan-and-decode pass.
type FetchFunc func(ctx context.Context) ([]custody.Record, error)

type entry struct {
	records   []custody.Record
	fetchedAt time.Time
}

// Cache holds decoded record sets keyed by backend+network. Invalidate is
// the only external mutator; write paths must call it after every successful
// mutation since the cache observes nothing on its own.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry

	group singleflight.Group
}

func New(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached record set for key, triggering at most one fetch
// across all concurrent callers when the entry is missing or older than the
// TTL. On fetch failure, stale data is served when any exists.
func (c *Cache) Get(ctx context.Context, key string, fetch FetchFunc) ([]custody.Record, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	fresh := ok && c.now().Sub(e.fetchedAt) <= c.ttl
	c.mu.Unlock()

	if fresh {
		return cloneRecords(e.records), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have refreshed
		// the entry while this one waited to start.
		c.mu.Lock()
		e, ok := c.entries[key]
		fresh := ok && c.now().Sub(e.fetchedAt) <= c.ttl
		c.mu.Unlock()
		if fresh {
			return e.records, nil
		}

		records, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{records: records, fetchedAt: c.now()}
		c.mu.Unlock()
		return records, nil
	})
	if err != nil {
		c.mu.Lock()
		stale, ok := c.entries[key]
		c.mu.Unlock()
		if ok {
			return cloneRecords(stale.records), nil
		}
		return nil, err
	}
	return cloneRecords(v.([]custody.Record)), nil
}

// Invalidate drops the entry for key. The next read triggers a fresh scan.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func cloneRecords(in []custody.Record) []custody.Record {
	if in == nil {
		return nil
	}
	out := make([]custody.Record, len(in))
	copy(out, in)
	for i := range out {
		out[i].Seed = append([]byte(nil), out[i].Seed...)
	}
	return out
}
