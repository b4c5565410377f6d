// ABOUTME: Stale-tolerant read-through cache with a persisted single-slot entry.
// ABOUTME: Fetches run under a timeout and are collapsed with singleflight; writes are atomic.

package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultFreshWindow    = 60 * time.Second
	defaultFallbackWindow = time.Hour
	defaultFetchTimeout   = 3 * time.Second
)

// Status describes how the returned data was obtained.
type Status string

const (
	// StatusSuccess means the data is fresh: either a cache hit inside
	// the fresh window or the result of a successful live fetch.
	StatusSuccess Status = "success"

	// StatusFallback means the live fetch failed and older cached data
	// inside the fallback window was returned instead.
	StatusFallback Status = "fallback"

	// StatusError means the live fetch failed and no usable cached data
	// existed; Data is an empty payload.
	StatusError Status = "error"
)

// Fetcher retrieves the live payload. The cache cancels the context when
// the fetch timeout elapses; well-behaved fetchers return promptly.
type Fetcher func(ctx context.Context) (json.RawMessage, error)

// Result is what Get hands back. It never comes with a Go error: fetch
// failures are downgraded into Status and Err so callers always have
// something to render.
type Result struct {
	Data      json.RawMessage
	FromCache bool
	CacheAge  time.Duration
	Status    Status
	Err       string
}

// entry is the persisted cache slot. Timestamp is unix milliseconds to
// keep the on-disk format stable across implementations.
type entry struct {
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func (e *entry) age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.Timestamp))
}

// isValid reports whether the entry is younger than maxAge. Used for both
// the fresh and the fallback window.
func isValid(e *entry, maxAge time.Duration) bool {
	return e != nil && e.age(time.Now()) < maxAge
}

// Options tunes the cache windows. Zero values fall back to the defaults
// (60s fresh, 1h fallback, 3s fetch timeout).
type Options struct {
	FreshWindow    time.Duration
	FallbackWindow time.Duration
	FetchTimeout   time.Duration
}

// Cache is a single-slot read-through cache persisted to disk, so a
// fallback is available immediately after a process restart.
type Cache struct {
	path           string
	freshWindow    time.Duration
	fallbackWindow time.Duration
	fetchTimeout   time.Duration
	logger         *slog.Logger

	mu    sync.Mutex
	entry *entry
	gen   uint64

	group singleflight.Group
}

// New creates a cache persisted at path, loading any previous entry from
// disk. A missing or unreadable file just means an empty cache.
func New(path string, opts Options, logger *slog.Logger) *Cache {
	if opts.FreshWindow <= 0 {
		opts.FreshWindow = defaultFreshWindow
	}
	if opts.FallbackWindow <= 0 {
		opts.FallbackWindow = defaultFallbackWindow
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		path:           path,
		freshWindow:    opts.FreshWindow,
		fallbackWindow: opts.FallbackWindow,
		fetchTimeout:   opts.FetchTimeout,
		logger:         logger.With("component", "statuscache"),
	}
	c.load()
	return c
}

// Get returns cached data if fresh, otherwise fetches live data under the
// configured timeout, falling back to older cached data when the fetch
// fails. Concurrent refreshes are collapsed into one in-flight fetch.
func (c *Cache) Get(ctx context.Context, fetch Fetcher) Result {
	c.mu.Lock()
	cached := c.entry
	startGen := c.gen
	c.mu.Unlock()

	if isValid(cached, c.freshWindow) {
		return Result{
			Data:      cached.Data,
			FromCache: true,
			CacheAge:  cached.age(time.Now()),
			Status:    StatusSuccess,
		}
	}

	data, err, _ := c.group.Do("fetch", func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
		return c.runFetch(fctx, fetch)
	})
	if err == nil {
		payload := data.(json.RawMessage)
		c.store(startGen, payload)
		return Result{Data: payload, Status: StatusSuccess}
	}

	c.logger.Warn("live fetch failed", "error", err)

	if isValid(cached, c.fallbackWindow) {
		return Result{
			Data:      cached.Data,
			FromCache: true,
			CacheAge:  cached.age(time.Now()),
			Status:    StatusFallback,
			Err:       err.Error(),
		}
	}

	return Result{
		Data:   json.RawMessage("[]"),
		Status: StatusError,
		Err:    err.Error(),
	}
}

// runFetch invokes the fetcher, converting a panic into a plain error so
// a misbehaving fetcher can never take down a request path.
func (c *Cache) runFetch(ctx context.Context, fetch Fetcher) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()

	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		// The fetcher ignored cancellation; treat its late result as a failure
		return nil, ctx.Err()
	}
	return payload, nil
}

// store replaces the cache slot, unless a newer store happened since the
// fetch started (startGen mismatch), and persists the new entry.
func (c *Cache) store(startGen uint64, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != startGen {
		return
	}

	c.entry = &entry{Timestamp: time.Now().UnixMilli(), Data: data}
	c.gen++
	c.persistLocked()
}

// Entry returns the current slot's timestamp and payload, if any. Used by
// operational tooling; business callers go through Get.
func (c *Cache) Entry() (time.Time, json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return time.Time{}, nil, false
	}
	return time.UnixMilli(c.entry.Timestamp), c.entry.Data, true
}

// load reads the persisted slot from disk. Errors are logged and ignored.
func (c *Cache) load() {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("could not read cache file", "path", c.path, "error", err)
		}
		return
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("could not parse cache file", "path", c.path, "error", err)
		return
	}
	c.entry = &e
}

// persistLocked writes the slot to disk with a tmp-file rename so readers
// never observe a half-written file. Must be called with mu held.
func (c *Cache) persistLocked() {
	raw, err := json.Marshal(c.entry)
	if err != nil {
		c.logger.Warn("could not encode cache entry", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Warn("could not create cache directory", "error", err)
		return
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		c.logger.Warn("could not write cache file", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.Warn("could not replace cache file", "path", c.path, "error", err)
	}
}
