package config

import (
	"context"
	"testing"
	"time"
)

// MockStateStore implements store.StateStore for testing.
type MockStateStore struct {
	data map[string]string
}

func NewMockStateStore() *MockStateStore {
	return &MockStateStore{data: make(map[string]string)}
}

func (m *MockStateStore) GetState(ctx context.Context, key string) (string, bool) {
	val, ok := m.data[key]
	return val, ok
}

func (m *MockStateStore) SetState(ctx context.Context, key, val string) error {
	m.data[key] = val
	return nil
}

func (m *MockStateStore) DeleteState(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestUnifiedProvider(t *testing.T) {
	ctx := context.Background()
	baseCfg := DefaultConfig()

	store := NewMockStateStore()
	p := NewProvider(baseCfg, store)

	t.Run("Defaults_And_Fallbacks", func(t *testing.T) {
		if got := p.TileBaseURL(ctx); got != "https://tile.openstreetmap.org" {
			t.Errorf("expected default base url, got %s", got)
		}
		if got := p.TileMaxAge(ctx); got != 30*Day {
			t.Errorf("expected 30d, got %v", got)
		}
		if got := p.TileConcurrency(ctx); got != 2 {
			t.Errorf("expected 2, got %d", got)
		}
		if got := p.RouteRetention(ctx); got != 30*Day {
			t.Errorf("expected 30d, got %v", got)
		}
		if got := p.ImageRetention(ctx); got != 30*Day {
			t.Errorf("expected 30d, got %v", got)
		}
		if p.AppConfig() != baseCfg {
			t.Error("AppConfig should return the base config")
		}
	})

	t.Run("State_Overrides", func(t *testing.T) {
		_ = store.SetState(ctx, KeyTileBaseURL, "https://tiles.example.org")
		_ = store.SetState(ctx, KeyTileMaxAge, "1w")
		_ = store.SetState(ctx, KeyTileConcurrency, "4")
		_ = store.SetState(ctx, KeyRouteRetention, "2d")
		_ = store.SetState(ctx, KeyImageRetention, "12h")

		if got := p.TileBaseURL(ctx); got != "https://tiles.example.org" {
			t.Errorf("expected override, got %s", got)
		}
		if got := p.TileMaxAge(ctx); got != Week {
			t.Errorf("expected 1w, got %v", got)
		}
		if got := p.TileConcurrency(ctx); got != 4 {
			t.Errorf("expected 4, got %d", got)
		}
		if got := p.RouteRetention(ctx); got != 48*time.Hour {
			t.Errorf("expected 48h, got %v", got)
		}
		if got := p.ImageRetention(ctx); got != 12*time.Hour {
			t.Errorf("expected 12h, got %v", got)
		}
	})

	t.Run("Invalid_State_Falls_Back", func(t *testing.T) {
		_ = store.SetState(ctx, KeyTileMaxAge, "soon")
		_ = store.SetState(ctx, KeyTileConcurrency, "many")
		if got := p.TileMaxAge(ctx); got != 30*Day {
			t.Errorf("expected fallback 30d, got %v", got)
		}
		if got := p.TileConcurrency(ctx); got != 2 {
			t.Errorf("expected fallback 2, got %d", got)
		}

		_ = store.SetState(ctx, KeyTileConcurrency, "0")
		if got := p.TileConcurrency(ctx); got != 1 {
			t.Errorf("expected floor of 1, got %d", got)
		}
	})

	t.Run("Nil_Store", func(t *testing.T) {
		np := NewProvider(baseCfg, nil)
		if got := np.RouteRetention(ctx); got != 30*Day {
			t.Errorf("expected 30d, got %v", got)
		}
	})
}
