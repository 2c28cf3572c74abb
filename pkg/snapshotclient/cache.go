package snapshotclient

import (
	"context"
	"sync"
	"time"
)

// Fetcher retrieves a fresh snapshot from the control plane.
type Fetcher interface {
	Fetch(ctx context.Context, projectID int64) (*Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, projectID int64) (*Snapshot, error)

func (f FetcherFunc) Fetch(ctx context.Context, projectID int64) (*Snapshot, error) {
	return f(ctx, projectID)
}

// Logger is the minimal logging surface the cache needs. *zap.SugaredLogger
// satisfies it.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Infow(string, ...any) {}
func (nopLogger) Warnw(string, ...any) {}

// Options configures a Cache.
type Options struct {
	// TTL bounds how long an entry may be served without refetching.
	TTL time.Duration
	// SweepEvery is the background eviction interval. Zero disables the
	// sweeper; expired entries are then evicted lazily on read.
	SweepEvery time.Duration
	Logger     Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	snapshot  *Snapshot
	version   int64
	expiresAt time.Time
}

// Cache is the fail-closed consumer cache. On any fetch failure the cached
// entry is evicted and the failure is surfaced; a stale value is never
// served past its TTL and no helper ever defaults to "allowed".
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	log     Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[int64]entry

	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewCache builds a cache around fetcher. Call Close when done to stop the
// background sweeper.
func NewCache(fetcher Fetcher, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		fetcher:    fetcher,
		ttl:        opts.TTL,
		log:        opts.Logger,
		now:        opts.Now,
		entries:    make(map[int64]entry),
		sweepEvery: opts.SweepEvery,
		stop:       make(chan struct{}),
	}
	if c.sweepEvery > 0 {
		go c.sweepLoop()
	}
	return c
}

// Get returns the snapshot for the project, from cache when fresh. On fetch
// failure the entry is evicted and the error returned.
func (c *Cache) Get(ctx context.Context, projectID int64) (*Snapshot, error) {
	now := c.now()

	c.mu.RLock()
	cached, ok := c.entries[projectID]
	c.mu.RUnlock()
	if ok && now.Before(cached.expiresAt) {
		return cached.snapshot, nil
	}

	snapshot, err := c.fetcher.Fetch(ctx, projectID)
	if err != nil {
		c.Invalidate(projectID)
		return nil, err
	}

	if ok && cached.version != snapshot.Version {
		// The refetch was forced by real state drift, not just TTL churn.
		c.log.Infow("snapshot version changed",
			"project_id", projectID,
			"previous_version", cached.version,
			"version", snapshot.Version,
		)
	}

	c.mu.Lock()
	c.entries[projectID] = entry{
		snapshot:  snapshot,
		version:   snapshot.Version,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	return snapshot, nil
}

// Invalidate drops the cached entry for the project.
func (c *Cache) Invalidate(projectID int64) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
}

// IsProjectActive reports whether the project may serve traffic. False on
// any failure to obtain a snapshot.
func (c *Cache) IsProjectActive(ctx context.Context, projectID int64) bool {
	snapshot, err := c.Get(ctx, projectID)
	if err != nil {
		c.log.Warnw("denying project activity check", "project_id", projectID, "error", err)
		return false
	}
	return snapshot.Active()
}

// IsServiceEnabled reports whether the service is enabled for the project.
// False on any failure to obtain a snapshot.
func (c *Cache) IsServiceEnabled(ctx context.Context, projectID int64, service string) bool {
	snapshot, err := c.Get(ctx, projectID)
	if err != nil {
		c.log.Warnw("denying service check", "project_id", projectID, "service", service, "error", err)
		return false
	}
	return snapshot.ServiceEnabled(service)
}

// CanPerformOperation reports whether the project is active and the service
// enabled. False on any failure to obtain a snapshot.
func (c *Cache) CanPerformOperation(ctx context.Context, projectID int64, service string) bool {
	snapshot, err := c.Get(ctx, projectID)
	if err != nil {
		c.log.Warnw("denying operation", "project_id", projectID, "service", service, "error", err)
		return false
	}
	return snapshot.Active() && snapshot.ServiceEnabled(service)
}

// Close stops the background sweeper.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Sweep evicts every expired entry.
func (c *Cache) Sweep() {
	now := c.now()
	c.mu.Lock()
	for projectID, cached := range c.entries {
		if !now.Before(cached.expiresAt) {
			delete(c.entries, projectID)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}
