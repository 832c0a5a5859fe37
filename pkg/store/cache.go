package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"m4cache/pkg/db"
	"m4cache/pkg/model"
)

// Cache is the persistent cache handed to the application layer. Until Init
// succeeds it runs degraded: reads report nothing cached and writes fail with
// ErrUnavailable. IsReady tells the two states apart.
type Cache struct {
	conn *db.Connector
	opts []Option

	mu      sync.RWMutex
	backend *SQLiteStore
	initErr error
}

var _ Store = (*Cache)(nil)

// NewCache creates a cache on top of conn. No I/O happens until Init.
func NewCache(conn *db.Connector, opts ...Option) *Cache {
	return &Cache{conn: conn, opts: opts}
}

// Init opens the database and creates missing collections. Repeated calls
// reuse the existing connection. On failure the cache stays degraded.
func (c *Cache) Init(ctx context.Context) error {
	d, err := c.conn.Get(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.initErr = err
		return err
	}
	if c.backend == nil {
		c.backend = NewSQLiteStore(d, c.opts...)
	}
	c.initErr = nil
	return nil
}

// IsReady reports whether the cache is backed by an open database.
func (c *Cache) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend != nil
}

// Err returns the error of the last failed Init, if the cache is degraded.
func (c *Cache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initErr
}

func (c *Cache) store() *SQLiteStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// Close closes the underlying connection. The cache is degraded afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.backend = nil
	c.mu.Unlock()
	return c.conn.Close()
}

// --- Stores ---

func (c *Cache) SaveStore(ctx context.Context, st *model.Store) error {
	if s := c.store(); s != nil {
		return s.SaveStore(ctx, st)
	}
	return ErrUnavailable
}

func (c *Cache) SaveStores(ctx context.Context, stores []*model.Store) error {
	if s := c.store(); s != nil {
		return s.SaveStores(ctx, stores)
	}
	return ErrUnavailable
}

func (c *Cache) GetStore(ctx context.Context, id string) (*model.Store, error) {
	if s := c.store(); s != nil {
		return s.GetStore(ctx, id)
	}
	return nil, nil
}

func (c *Cache) ListStores(ctx context.Context) ([]*model.Store, error) {
	if s := c.store(); s != nil {
		return s.ListStores(ctx)
	}
	return nil, nil
}

func (c *Cache) DeleteStore(ctx context.Context, id string) error {
	if s := c.store(); s != nil {
		return s.DeleteStore(ctx, id)
	}
	return ErrUnavailable
}

func (c *Cache) StoresNear(ctx context.Context, lat, lon, radiusMeters float64) ([]*model.Store, error) {
	if s := c.store(); s != nil {
		return s.StoresNear(ctx, lat, lon, radiusMeters)
	}
	return nil, nil
}

// --- Routes ---

func (c *Cache) SaveRoute(ctx context.Context, r *model.Route) error {
	if s := c.store(); s != nil {
		return s.SaveRoute(ctx, r)
	}
	return ErrUnavailable
}

func (c *Cache) GetRoute(ctx context.Context, from, to string) (*model.Route, error) {
	if s := c.store(); s != nil {
		return s.GetRoute(ctx, from, to)
	}
	return nil, nil
}

func (c *Cache) ListRoutes(ctx context.Context) ([]*model.Route, error) {
	if s := c.store(); s != nil {
		return s.ListRoutes(ctx)
	}
	return nil, nil
}

func (c *Cache) DeleteRoute(ctx context.Context, from, to string) error {
	if s := c.store(); s != nil {
		return s.DeleteRoute(ctx, from, to)
	}
	return ErrUnavailable
}

func (c *Cache) PurgeRoutesOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s := c.store(); s != nil {
		return s.PurgeRoutesOlderThan(ctx, olderThan)
	}
	return 0, ErrUnavailable
}

// --- Images ---

func (c *Cache) SaveImage(ctx context.Context, img *model.Image) error {
	if s := c.store(); s != nil {
		return s.SaveImage(ctx, img)
	}
	return ErrUnavailable
}

func (c *Cache) SaveImages(ctx context.Context, imgs []*model.Image) error {
	if s := c.store(); s != nil {
		return s.SaveImages(ctx, imgs)
	}
	return ErrUnavailable
}

func (c *Cache) GetImage(ctx context.Context, id string) (*model.Image, error) {
	if s := c.store(); s != nil {
		return s.GetImage(ctx, id)
	}
	return nil, nil
}

func (c *Cache) ListImages(ctx context.Context) ([]*model.Image, error) {
	if s := c.store(); s != nil {
		return s.ListImages(ctx)
	}
	return nil, nil
}

func (c *Cache) GetImagesByStore(ctx context.Context, storeID string) ([]*model.Image, error) {
	if s := c.store(); s != nil {
		return s.GetImagesByStore(ctx, storeID)
	}
	return nil, nil
}

func (c *Cache) DeleteImage(ctx context.Context, id string) error {
	if s := c.store(); s != nil {
		return s.DeleteImage(ctx, id)
	}
	return ErrUnavailable
}

func (c *Cache) PurgeStaleImages(ctx context.Context) (int64, error) {
	if s := c.store(); s != nil {
		return s.PurgeStaleImages(ctx)
	}
	return 0, ErrUnavailable
}

func (c *Cache) PurgeImagesOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s := c.store(); s != nil {
		return s.PurgeImagesOlderThan(ctx, olderThan)
	}
	return 0, ErrUnavailable
}

// --- State ---

func (c *Cache) GetState(ctx context.Context, key string) (string, bool) {
	if s := c.store(); s != nil {
		return s.GetState(ctx, key)
	}
	return "", false
}

func (c *Cache) SetState(ctx context.Context, key, val string) error {
	if s := c.store(); s != nil {
		return s.SetState(ctx, key, val)
	}
	return ErrUnavailable
}

func (c *Cache) DeleteState(ctx context.Context, key string) error {
	if s := c.store(); s != nil {
		return s.DeleteState(ctx, key)
	}
	return ErrUnavailable
}

// InitNonFatal runs Init and logs a failure instead of returning it, leaving
// the cache degraded. Use it at application start.
func (c *Cache) InitNonFatal(ctx context.Context) bool {
	if err := c.Init(ctx); err != nil {
		slog.Error("Offline cache unavailable, continuing without it", "path", c.conn.Path(), "error", err)
		return false
	}
	slog.Info("Offline cache ready", "path", c.conn.Path())
	return true
}
