package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4cache/pkg/config"
	"m4cache/pkg/db"
	"m4cache/pkg/model"
	"m4cache/pkg/store"
)

const seedCSV = "\ufeffid,name,address,latitude,longitude,description,phone,created_at,updated_at\n" +
	"s1,Pho 24,12 Le Loi,10.7769,106.7009,Noodles,+84 28 1234,2024-01-02T03:04:05Z,2024-02-01 10:00:00\n" +
	"s2,Banh Mi,3 Hai Ba Trung,10.7801,106.6990,,,,\n" +
	"s3,Broken,,not-a-number,106.7,,,,\n" +
	",No Id,,10.0,106.0,,,,\n"

type fakeTiles struct {
	days  int
	size  int64
	fails bool
}

func (f *fakeTiles) EvictOlderThan(ctx context.Context, days int) (int, error) {
	f.days = days
	if f.fails {
		return 0, errors.New("walk failed")
	}
	return 3, nil
}

func (f *fakeTiles) CacheSizeBytes() (int64, error) { return f.size, nil }

func setup(t *testing.T, now *time.Time) *store.SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "maint_test.db3"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return store.NewSQLiteStore(d, store.WithClock(func() time.Time { return *now }))
}

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stores.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportStores(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := setup(t, &now)
	path := writeSeed(t, seedCSV)

	n, err := ImportStores(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := s.GetStore(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, st, "BOM must not hide the id column")
	assert.Equal(t, "Pho 24", st.Name)
	assert.Equal(t, 10.7769, st.Lat)
	assert.Equal(t, "+84 28 1234", st.Phone)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), st.CreatedAt)
	assert.Equal(t, time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), st.UpdatedAt)

	st2, err := s.GetStore(ctx, "s2")
	require.NoError(t, err)
	require.NotNil(t, st2)
	assert.Empty(t, st2.Description)
	assert.True(t, st2.CreatedAt.IsZero())

	missing, err := s.GetStore(ctx, "s3")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, found := s.GetState(ctx, StoresCSVStateKey)
	assert.True(t, found, "state not updated after import")

	// Unchanged file is skipped
	n, err = ImportStores(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// A touched file is imported again
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	n, err = ImportStores(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImportStores_MissingFile(t *testing.T) {
	now := time.Now()
	s := setup(t, &now)

	n, err := ImportStores(context.Background(), s, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = ImportStores(context.Background(), s, filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportStores_NoIDColumn(t *testing.T) {
	now := time.Now()
	s := setup(t, &now)
	path := writeSeed(t, "name,latitude,longitude\nX,1,2\n")

	_, err := ImportStores(context.Background(), s, path)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := setup(t, &now)

	// Records written 40 days ago
	now = now.Add(-40 * config.Day)
	require.NoError(t, s.SaveRoute(ctx, &model.Route{FromLocation: "1.000000,1.000000", ToLocation: "2.000000,2.000000"}))
	require.NoError(t, s.SaveImage(ctx, &model.Image{ID: "old-img", StoreID: "s1"}))

	// Records written 2 days ago
	now = now.Add(38 * config.Day)
	require.NoError(t, s.SaveRoute(ctx, &model.Route{FromLocation: "3.000000,3.000000", ToLocation: "4.000000,4.000000"}))
	require.NoError(t, s.SaveImage(ctx, &model.Image{ID: "new-img", StoreID: "s1"}))

	now = now.Add(2 * config.Day)

	p := config.NewProvider(config.DefaultConfig(), s)
	tc := &fakeTiles{size: 2 * 1024 * 1024}

	rep, err := Run(ctx, s, p, tc, writeSeed(t, seedCSV))
	require.NoError(t, err)

	assert.Equal(t, 2, rep.StoresImported)
	assert.Equal(t, int64(1), rep.RoutesPurged)
	assert.Equal(t, int64(1), rep.ImagesPurged)
	assert.Equal(t, 3, rep.TilesEvicted)
	assert.Equal(t, int64(2*1024*1024), rep.TileBytes)
	assert.Equal(t, 30, tc.days)

	img, err := s.GetImage(ctx, "new-img")
	require.NoError(t, err)
	assert.NotNil(t, img)
	r, err := s.GetRoute(ctx, "3.000000,3.000000", "4.000000,4.000000")
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestRun_StateOverrides(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := setup(t, &now)

	require.NoError(t, s.SaveRoute(ctx, &model.Route{FromLocation: "a", ToLocation: "b"}))
	now = now.Add(2 * config.Day)

	require.NoError(t, s.SetState(ctx, config.KeyRouteRetention, "1d"))
	require.NoError(t, s.SetState(ctx, config.KeyTileMaxAge, "1w"))

	tc := &fakeTiles{}
	rep, err := Run(ctx, s, config.NewProvider(config.DefaultConfig(), s), tc, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.RoutesPurged)
	assert.Equal(t, 7, tc.days)
}

func TestRun_TaskFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := setup(t, &now)

	tc := &fakeTiles{fails: true, size: 10}
	rep, err := Run(ctx, s, config.NewProvider(config.DefaultConfig(), s), tc, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tile eviction")
	assert.Equal(t, int64(10), rep.TileBytes)
}

func TestRun_DegradedStore(t *testing.T) {
	ctx := context.Background()
	c := store.NewCache(db.NewConnector(filepath.Join(t.TempDir(), "never.db3")))

	rep, err := Run(ctx, c, config.NewProvider(config.DefaultConfig(), c), nil, writeSeed(t, seedCSV))
	require.NoError(t, err)
	assert.Zero(t, rep.StoresImported)
	assert.Zero(t, rep.RoutesPurged)
}
