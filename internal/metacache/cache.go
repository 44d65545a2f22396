// Package metacache holds per-file metadata (header set and row count) so
// header lookups and unfiltered counts skip the full scan after the first
// one.
//
// Missing an entry is always safe: callers recompute by scanning. The cache
// therefore only promises that concurrent use never corrupts it, and that a
// scan which began before Invalidate cannot write its result back.
package metacache

import (
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Entry is the cached metadata for one file.
type Entry struct {
	FileID    string    `json:"fileId"`
	Headers   []string  `json:"headers"`
	TotalRows int64     `json:"totalRows"`
	ScannedAt time.Time `json:"scannedAt"`
}

func (e Entry) clone() Entry {
	e.Headers = slices.Clone(e.Headers)
	if e.Headers == nil {
		e.Headers = []string{}
	}
	return e
}

// Config sizes the cache. Zero values mean unbounded and never expiring.
type Config struct {
	Capacity uint64        `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Cache maps file identity to Entry. It is safe for concurrent use.
type Cache struct {
	items   *ttlcache.Cache[string, Entry]
	expires bool

	mu    sync.Mutex
	scans map[string]*scanGen
}

// scanGen guards one identity while describe scans are in flight. It is
// dropped when the last scan ends, so the map only holds busy identities.
type scanGen struct {
	gen      uint64
	inflight int
}

// New creates a cache. Close it to stop the expiry goroutine when a TTL is
// configured.
func New(cfg Config) *Cache {
	opts := []ttlcache.Option[string, Entry]{
		ttlcache.WithDisableTouchOnHit[string, Entry](),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, Entry](cfg.Capacity))
	}
	if cfg.TTL > 0 {
		opts = append(opts, ttlcache.WithTTL[string, Entry](cfg.TTL))
	}

	items := ttlcache.New(opts...)
	if cfg.TTL > 0 {
		go items.Start()
	}

	return &Cache{
		items:   items,
		expires: cfg.TTL > 0,
		scans:   make(map[string]*scanGen),
	}
}

// Get returns the entry for fileID, if present.
func (c *Cache) Get(fileID string) (Entry, bool) {
	item := c.items.Get(fileID)
	if item == nil {
		return Entry{}, false
	}
	return item.Value().clone(), true
}

// Put stores e for fileID, replacing any previous entry wholesale.
func (c *Cache) Put(fileID string, e Entry) {
	e.FileID = fileID
	c.items.Set(fileID, e.clone(), ttlcache.DefaultTTL)
}

// BeginScan registers a scan whose result will be stored with
// PutIfGeneration and returns the token to pass it. Every BeginScan must be
// paired with EndScan.
func (c *Cache) BeginScan(fileID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	sg, ok := c.scans[fileID]
	if !ok {
		sg = &scanGen{}
		c.scans[fileID] = sg
	}
	sg.inflight++
	return sg.gen
}

// EndScan releases a scan registered with BeginScan.
func (c *Cache) EndScan(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sg, ok := c.scans[fileID]
	if !ok {
		return
	}
	if sg.inflight--; sg.inflight <= 0 {
		delete(c.scans, fileID)
	}
}

// PutIfGeneration stores e only if fileID has not been invalidated since
// gen was taken by BeginScan. It reports whether the entry was stored.
func (c *Cache) PutIfGeneration(fileID string, e Entry, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sg, ok := c.scans[fileID]
	if !ok || sg.gen != gen {
		return false
	}
	c.Put(fileID, e)
	return true
}

// Invalidate drops the entry for fileID and fences off scans already in
// flight for it. Called when the file is deleted.
func (c *Cache) Invalidate(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sg, ok := c.scans[fileID]; ok {
		sg.gen++
	}
	c.items.Delete(fileID)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.items.Len()
}

// Stats returns hit, miss and eviction counts since creation.
func (c *Cache) Stats() (hits, misses, evictions uint64) {
	m := c.items.Metrics()
	return m.Hits, m.Misses, m.Evictions
}

// Close stops background expiry.
func (c *Cache) Close() {
	// Stop blocks unless Start is running.
	if c.expires {
		c.items.Stop()
	}
}
