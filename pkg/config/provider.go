package config

import (
	"context"
	"strconv"
	"time"

	"m4cache/pkg/store"
)

// State keys through which the application layer overrides file settings at
// runtime. Values are stored as strings in the persistent_state collection.
const (
	KeyTileBaseURL     = "cfg.tiles.base_url"
	KeyTileMaxAge      = "cfg.tiles.max_age"
	KeyTileConcurrency = "cfg.tiles.concurrency"
	KeyRouteRetention  = "cfg.routes.retention"
	KeyImageRetention  = "cfg.images.retention"
)

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	TileBaseURL(ctx context.Context) string
	TileMaxAge(ctx context.Context) time.Duration
	TileConcurrency(ctx context.Context) int
	RouteRetention(ctx context.Context) time.Duration
	ImageRetention(ctx context.Context) time.Duration

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider. st may be nil.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) TileBaseURL(ctx context.Context) string {
	return p.getString(ctx, KeyTileBaseURL, p.base.Tiles.BaseURL)
}

func (p *UnifiedProvider) TileMaxAge(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyTileMaxAge, p.base.Tiles.MaxAge.Std())
}

func (p *UnifiedProvider) TileConcurrency(ctx context.Context) int {
	n := p.getInt(ctx, KeyTileConcurrency, p.base.Tiles.Concurrency)
	if n < 1 {
		return 1
	}
	return n
}

func (p *UnifiedProvider) RouteRetention(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyRouteRetention, p.base.Routes.Retention.Std())
}

func (p *UnifiedProvider) ImageRetention(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyImageRetention, p.base.Images.Retention.Std())
}

// --- Helpers ---

func (p *UnifiedProvider) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if dur, err := ParseDuration(val); err == nil {
				return dur
			}
		}
	}
	return fallback
}
