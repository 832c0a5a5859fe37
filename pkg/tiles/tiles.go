package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"m4cache/pkg/cache"
	"m4cache/pkg/tracker"
)

var (
	// ErrSetup means a batch could not start, e.g. the cache directory is not writable.
	ErrSetup = errors.New("tile cache setup failed")
	// ErrOutOfRange is returned for tile indices that do not exist at their zoom.
	ErrOutOfRange = errors.New("tile out of range")
)

// Fetcher streams a remote resource into sink.
type Fetcher interface {
	Stream(ctx context.Context, url string, sink func(io.Reader) (int64, error)) (int64, error)
}

// Config holds tile cache settings.
type Config struct {
	BaseURL     string // tile server root, tiles are fetched from {BaseURL}/{z}/{x}/{y}.{Extension}
	Extension   string
	Concurrency int
}

// Result summarizes a DownloadArea run.
type Result struct {
	Downloaded int
	Skipped    int // already cached
	Failed     int
	OutOfRange int
}

// Total is the number of tiles the batch covered.
func (r Result) Total() int {
	return r.Downloaded + r.Skipped + r.Failed + r.OutOfRange
}

// Cache keeps map tiles on disk and downloads missing ones.
type Cache struct {
	files       *cache.FileStore
	fetcher     Fetcher
	tracker     *tracker.Tracker
	baseURL     string
	ext         string
	concurrency int
	provider    string
	now         func() time.Time
}

// New creates a tile cache storing files in files and fetching with f.
func New(files *cache.FileStore, f Fetcher, t *tracker.Tracker, cfg Config) *Cache {
	if cfg.Extension == "" {
		cfg.Extension = "png"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if t == nil {
		t = tracker.New()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	provider := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		provider = strings.ToLower(u.Host)
	}

	return &Cache{
		files:       files,
		fetcher:     f,
		tracker:     t,
		baseURL:     base,
		ext:         cfg.Extension,
		concurrency: cfg.Concurrency,
		provider:    provider,
		now:         time.Now,
	}
}

// Dir returns the tile cache root directory.
func (c *Cache) Dir() string { return c.files.Root() }

// TileURL returns the remote URL of coord. It performs no I/O.
func (c *Cache) TileURL(coord Coord) string {
	return fmt.Sprintf("%s/%d/%d/%d.%s", c.baseURL, coord.Z, coord.X, coord.Y, c.ext)
}

// IsCached reports whether coord is present on disk.
func (c *Cache) IsCached(coord Coord) bool {
	return c.files.Has(coord.Key(c.ext))
}

// LocalPath returns the file path of coord if it is cached.
func (c *Cache) LocalPath(coord Coord) (string, bool) {
	key := coord.Key(c.ext)
	if !c.files.Has(key) {
		return "", false
	}
	return c.files.Path(key), true
}

// Download fetches coord and stores it, replacing any cached copy.
// The file only appears once the whole body has been received.
func (c *Cache) Download(ctx context.Context, coord Coord) error {
	if !coord.Valid() {
		return fmt.Errorf("%w: %s", ErrOutOfRange, coord)
	}
	key := coord.Key(c.ext)
	u := c.TileURL(coord)

	n, err := c.fetcher.Stream(ctx, u, func(r io.Reader) (int64, error) {
		return c.files.WriteFrom(key, r)
	})
	if err != nil {
		return fmt.Errorf("failed to download tile %s: %w", coord, err)
	}
	slog.Debug("Tile downloaded", "z", coord.Z, "x", coord.X, "y", coord.Y, "bytes", n)
	return nil
}

// DownloadArea ensures every tile of Coverage(lat, lon, zoom, radiusKm) is on
// disk. Cached tiles are skipped. A failing tile is logged and counted but
// never stops the batch; only setup failures and cancellation return an error.
func (c *Cache) DownloadArea(ctx context.Context, lat, lon float64, zoom int, radiusKm float64) (Result, error) {
	if err := c.files.EnsureRoot(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	area := Coverage(lat, lon, zoom, radiusKm)
	res := Result{OutOfRange: area.OutOfRange()}
	var downloaded, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)

	for coord := range area.Tiles() {
		if ctx.Err() != nil {
			break
		}
		if c.IsCached(coord) {
			c.tracker.TrackCacheHit(c.provider)
			res.Skipped++
			continue
		}

		c.tracker.TrackCacheMiss(c.provider)
		g.Go(func() error {
			if err := c.Download(ctx, coord); err != nil {
				failed.Add(1)
				slog.Warn("Tile download failed", "z", coord.Z, "x", coord.X, "y", coord.Y, "error", err)
				return nil
			}
			downloaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Downloaded = int(downloaded.Load())
	res.Failed = int(failed.Load())

	slog.Info("Tile area cached",
		"lat", lat, "lon", lon, "zoom", zoom, "radius_km", radiusKm,
		"downloaded", res.Downloaded, "skipped", res.Skipped, "failed", res.Failed, "out_of_range", res.OutOfRange)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// Tile returns the bytes of coord, downloading it first if it is not cached.
func (c *Cache) Tile(ctx context.Context, coord Coord) ([]byte, error) {
	key := coord.Key(c.ext)
	if data, ok := c.files.GetCache(ctx, key); ok {
		c.tracker.TrackCacheHit(c.provider)
		return data, nil
	}
	c.tracker.TrackCacheMiss(c.provider)

	if err := c.Download(ctx, coord); err != nil {
		return nil, err
	}
	data, ok := c.files.GetCache(ctx, key)
	if !ok {
		return nil, fmt.Errorf("tile %s missing after download", coord)
	}
	return data, nil
}

// EvictOlderThan deletes tiles last written more than days ago. An absent
// cache directory is not an error.
func (c *Cache) EvictOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := c.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := c.files.EvictOlderThan(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("failed to evict tiles: %w", err)
	}
	if n > 0 {
		slog.Info("Evicted old tiles", "count", n, "older_than_days", days)
	}
	return n, nil
}

// CacheSizeBytes returns the total size of the tile cache, zero if it does not exist.
func (c *Cache) CacheSizeBytes() (int64, error) {
	return c.files.SizeBytes()
}
