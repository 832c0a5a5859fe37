package store

import (
	"context"
	"time"

	"m4cache/pkg/model"
)

// StoreRecords handles store persistence.
type StoreRecords interface {
	SaveStore(ctx context.Context, s *model.Store) error
	SaveStores(ctx context.Context, stores []*model.Store) error
	GetStore(ctx context.Context, id string) (*model.Store, error)
	ListStores(ctx context.Context) ([]*model.Store, error)
	DeleteStore(ctx context.Context, id string) error
	StoresNear(ctx context.Context, lat, lon, radiusMeters float64) ([]*model.Store, error)
}

// RouteRecords handles memoized routes keyed by (from, to).
type RouteRecords interface {
	SaveRoute(ctx context.Context, r *model.Route) error
	GetRoute(ctx context.Context, from, to string) (*model.Route, error)
	ListRoutes(ctx context.Context) ([]*model.Route, error)
	DeleteRoute(ctx context.Context, from, to string) error
	PurgeRoutesOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ImageRecords handles store image metadata.
type ImageRecords interface {
	SaveImage(ctx context.Context, img *model.Image) error
	SaveImages(ctx context.Context, imgs []*model.Image) error
	GetImage(ctx context.Context, id string) (*model.Image, error)
	ListImages(ctx context.Context) ([]*model.Image, error)
	GetImagesByStore(ctx context.Context, storeID string) ([]*model.Image, error)
	DeleteImage(ctx context.Context, id string) error
	PurgeStaleImages(ctx context.Context) (int64, error)
	PurgeImagesOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	StoreRecords
	RouteRecords
	ImageRecords
	StateStore

	// Close closes the store connection.
	Close() error
}
