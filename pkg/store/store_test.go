package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4cache/pkg/db"
	"m4cache/pkg/model"
)

// testClock is a settable clock for cache-owned timestamps.
type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// setupTestStore creates a test database and store for each test.
func setupTestStore(t *testing.T, opts ...Option) (*SQLiteStore, func()) {
	t.Helper()
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db3")

	d, err := db.Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}

	store := NewSQLiteStore(d, opts...)
	cleanup := func() { d.Close() }
	return store, cleanup
}

// =============================================================================
// Store records
// =============================================================================

func TestStores_SaveTwiceKeepsOneRecord(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	require.NoError(t, s.SaveStore(ctx, &model.Store{ID: "s1", Name: "Old"}))
	require.NoError(t, s.SaveStore(ctx, &model.Store{ID: "s1", Name: "New"}))

	all, err := s.ListStores(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "New", all[0].Name)
}

func TestStores_Validation(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	err := s.SaveStore(ctx, &model.Store{Name: "no id"})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	// One bad record rejects the whole batch.
	err = s.SaveStores(ctx, []*model.Store{{ID: "ok"}, {ID: ""}})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	got, err := s.GetStore(ctx, "ok")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, s.SaveStores(ctx, nil))
}

func TestStores_GetMissingAndDeleteAbsent(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	got, err := s.GetStore(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, s.DeleteStore(ctx, "missing"))

	require.NoError(t, s.SaveStore(ctx, &model.Store{ID: "s1"}))
	require.NoError(t, s.DeleteStore(ctx, "s1"))
	got, err = s.GetStore(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStores_Near(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		stores  []*model.Store
		lat     float64
		lon     float64
		radius  float64
		wantIDs []string
	}{
		{
			name:    "empty",
			lat:     52.0,
			lon:     13.0,
			radius:  1000,
			wantIDs: nil,
		},
		{
			name: "within radius, nearest first",
			stores: []*model.Store{
				{ID: "far", Lat: 52.004, Lon: 13.0},  // ~445m
				{ID: "near", Lat: 52.001, Lon: 13.0}, // ~111m
				{ID: "out", Lat: 52.1, Lon: 13.1},    // ~13km
			},
			lat:     52.0,
			lon:     13.0,
			radius:  500,
			wantIDs: []string{"near", "far"},
		},
		{
			name: "box corner is outside the circle",
			stores: []*model.Store{
				// Inside the bounding box of a 1km radius but ~1.4km away.
				{ID: "corner", Lat: 52.0089, Lon: 13.0146},
			},
			lat:     52.0,
			lon:     13.0,
			radius:  1000,
			wantIDs: nil,
		},
		{
			name: "across the antimeridian from the east",
			stores: []*model.Store{
				{ID: "fiji-west", Lat: -16.5, Lon: -179.99}, // ~2.1km
				{ID: "greenwich", Lat: -16.5, Lon: 0},
			},
			lat:     -16.5,
			lon:     179.99,
			radius:  5000,
			wantIDs: []string{"fiji-west"},
		},
		{
			name: "across the antimeridian from the west",
			stores: []*model.Store{
				{ID: "fiji-east", Lat: -16.5, Lon: 179.995}, // ~1.6km
				{ID: "same-side", Lat: -16.5, Lon: -179.999},
				{ID: "too-far", Lat: -16.5, Lon: 179.9},
			},
			lat:     -16.5,
			lon:     -179.99,
			radius:  5000,
			wantIDs: []string{"same-side", "fiji-east"},
		},
		{
			name: "around the pole",
			stores: []*model.Store{
				{ID: "other-side", Lat: 89.995, Lon: -170}, // ~1.1km over the pole
			},
			lat:     89.995,
			lon:     10,
			radius:  2000,
			wantIDs: []string{"other-side"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, cleanup := setupTestStore(t)
			defer cleanup()
			require.NoError(t, s.SaveStores(ctx, tt.stores))

			got, err := s.StoresNear(ctx, tt.lat, tt.lon, tt.radius)
			require.NoError(t, err)

			var ids []string
			for _, st := range got {
				ids = append(ids, st.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

// =============================================================================
// Route records
// =============================================================================

func TestRoutes_SaveTwicePreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, cleanup := setupTestStore(t, WithClock(clock.Now))
	defer cleanup()

	first := &model.Route{FromLocation: "1.000000,2.000000", ToLocation: "3.000000,4.000000", DistanceMeters: 10}
	require.NoError(t, s.SaveRoute(ctx, first))
	created := first.CreatedAt
	assert.Equal(t, clock.t, created)
	assert.Equal(t, clock.t, first.LastUsedAt)

	clock.Advance(time.Hour)
	second := &model.Route{FromLocation: "1.000000,2.000000", ToLocation: "3.000000,4.000000", DistanceMeters: 20}
	require.NoError(t, s.SaveRoute(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, created, second.CreatedAt)
	assert.Equal(t, clock.t, second.LastUsedAt)

	loaded, err := s.GetRoute(ctx, "1.000000,2.000000", "3.000000,4.000000")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, created, loaded.CreatedAt)
	assert.Equal(t, clock.t, loaded.LastUsedAt)
	assert.Equal(t, 20.0, loaded.DistanceMeters)

	all, err := s.ListRoutes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRoutes_DirectionMatters(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	a, b := "1.000000,1.000000", "2.000000,2.000000"
	require.NoError(t, s.SaveRoute(ctx, &model.Route{FromLocation: a, ToLocation: b}))

	reverse, err := s.GetRoute(ctx, b, a)
	require.NoError(t, err)
	assert.Nil(t, reverse)

	require.NoError(t, s.SaveRoute(ctx, &model.Route{FromLocation: b, ToLocation: a}))
	all, err := s.ListRoutes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteRoute(ctx, a, b))
	got, err := s.GetRoute(ctx, b, a)
	require.NoError(t, err)
	assert.NotNil(t, got)

	assert.NoError(t, s.DeleteRoute(ctx, "x", "y"))
}

func TestRoutes_Validation(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	err := s.SaveRoute(context.Background(), &model.Route{FromLocation: "1,1"})
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestRoutes_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{t: now.Add(-40 * 24 * time.Hour)}
	s, cleanup := setupTestStore(t, WithClock(clock.Now))
	defer cleanup()

	require.NoError(t, s.SaveRoute(ctx, &model.Route{FromLocation: "old", ToLocation: "x"}))

	clock.t = now.Add(-24 * time.Hour)
	require.NoError(t, s.SaveRoute(ctx, &model.Route{FromLocation: "recent", ToLocation: "x"}))

	// A route that was never stamped with a last use.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routes (from_location, to_location, created_at) VALUES (?, ?, ?)`,
		"unstamped", "x", now.UnixNano())
	require.NoError(t, err)

	clock.t = now
	n, err := s.PurgeRoutesOlderThan(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := s.ListRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "recent", all[0].FromLocation)

	// Nothing left to purge.
	n, err = s.PurgeRoutesOlderThan(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// Image records
// =============================================================================

func TestImages_ByStore(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	require.NoError(t, s.SaveImages(ctx, []*model.Image{
		{ID: "a", StoreID: "s1"},
		{ID: "b", StoreID: "s1"},
		{ID: "c", StoreID: "s2"},
	}))

	imgs, err := s.GetImagesByStore(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, imgs, 2)

	imgs, err = s.GetImagesByStore(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, imgs)

	require.NoError(t, s.DeleteImage(ctx, "a"))
	all, err := s.ListImages(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestImages_LocalOnly(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	img := model.NewLocalImage("s1", "/tmp/photo.jpg")
	require.NoError(t, s.SaveImage(ctx, img))

	got, err := s.GetImage(ctx, img.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsLocalOnly())
	assert.Equal(t, "/tmp/photo.jpg", got.LocalPath)

	missing, err := s.GetImage(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestImages_PurgeStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{t: now.Add(-31 * 24 * time.Hour)}
	s, cleanup := setupTestStore(t, WithClock(clock.Now))
	defer cleanup()

	require.NoError(t, s.SaveImage(ctx, &model.Image{ID: "stale", StoreID: "s1"}))
	clock.t = now.Add(-29 * 24 * time.Hour)
	require.NoError(t, s.SaveImage(ctx, &model.Image{ID: "fresh", StoreID: "s1"}))

	clock.t = now
	n, err := s.PurgeStaleImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetImage(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetImage(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// =============================================================================
// Degraded cache
// =============================================================================

func TestCache_DegradedBeforeInit(t *testing.T) {
	ctx := context.Background()
	c := NewCache(db.NewConnector(filepath.Join(t.TempDir(), "never.db3")))

	assert.False(t, c.IsReady())

	st, err := c.GetStore(ctx, "s1")
	assert.NoError(t, err)
	assert.Nil(t, st)

	routes, err := c.ListRoutes(ctx)
	assert.NoError(t, err)
	assert.Empty(t, routes)

	_, hit := c.GetState(ctx, "k")
	assert.False(t, hit)

	assert.ErrorIs(t, c.SaveStore(ctx, &model.Store{ID: "s1"}), ErrUnavailable)
	assert.ErrorIs(t, c.SaveRoute(ctx, &model.Route{FromLocation: "a", ToLocation: "b"}), ErrUnavailable)
	assert.ErrorIs(t, c.SaveImage(ctx, &model.Image{ID: "i"}), ErrUnavailable)
	_, err = c.PurgeRoutesOlderThan(ctx, time.Hour)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCache_InitFailureStaysDegraded(t *testing.T) {
	ctx := context.Background()
	// A directory where the database file should be makes Init fail.
	path := t.TempDir()
	c := NewCache(db.NewConnector(path))

	assert.False(t, c.InitNonFatal(ctx))
	assert.False(t, c.IsReady())
	assert.Error(t, c.Err())
	assert.ErrorIs(t, c.SetState(ctx, "k", "v"), ErrUnavailable)
}

func TestCache_ReadyAfterInit(t *testing.T) {
	ctx := context.Background()
	c := NewCache(db.NewConnector(filepath.Join(t.TempDir(), "m4food.db3")))
	defer c.Close()

	require.NoError(t, c.Init(ctx))
	require.True(t, c.IsReady())
	require.NoError(t, c.Init(ctx))

	require.NoError(t, c.SaveStore(ctx, &model.Store{ID: "s1", Name: "Cafe"}))
	got, err := c.GetStore(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Cafe", got.Name)

	require.NoError(t, c.Close())
	assert.False(t, c.IsReady())
}
