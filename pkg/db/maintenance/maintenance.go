package maintenance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"m4cache/pkg/config"
	"m4cache/pkg/logging"
	"m4cache/pkg/model"
	"m4cache/pkg/store"
)

// StoresCSVStateKey remembers the mtime of the last imported seed file.
const StoresCSVStateKey = "seed_stores_csv_mtime"

// importBatch bounds the number of stores written per transaction.
const importBatch = 500

// Records is the subset of the cache store maintenance works on.
type Records interface {
	store.StoreRecords
	store.RouteRecords
	store.ImageRecords
	store.StateStore
}

// TileCache is the tile cache housekeeping surface.
type TileCache interface {
	EvictOlderThan(ctx context.Context, days int) (int, error)
	CacheSizeBytes() (int64, error)
}

// Report summarizes one maintenance run.
type Report struct {
	StoresImported int
	RoutesPurged   int64
	ImagesPurged   int64
	TilesEvicted   int
	TileBytes      int64
}

// Run executes all maintenance tasks: seed import, route and image purges,
// tile eviction and a size report. A failing task does not stop the others.
// Tasks refused by a degraded store are skipped without error. tc may be nil.
func Run(ctx context.Context, s Records, p config.Provider, tc TileCache, csvPath string) (Report, error) {
	slog.Info("Starting cache maintenance...")

	var rep Report
	var errs []error
	fail := func(task string, err error) {
		if errors.Is(err, store.ErrUnavailable) {
			slog.Warn("Maintenance task skipped, cache store unavailable", "task", task)
			return
		}
		slog.Error("Maintenance task failed", "task", task, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", task, err))
	}

	n, err := ImportStores(ctx, s, csvPath)
	if err != nil {
		fail("seed import", err)
	}
	rep.StoresImported = n

	if err := ctx.Err(); err != nil {
		return rep, err
	}

	if rep.RoutesPurged, err = s.PurgeRoutesOlderThan(ctx, p.RouteRetention(ctx)); err != nil {
		fail("route purge", err)
	}
	if rep.ImagesPurged, err = s.PurgeImagesOlderThan(ctx, p.ImageRetention(ctx)); err != nil {
		fail("image purge", err)
	}

	if tc != nil {
		days := int(p.TileMaxAge(ctx) / config.Day)
		if days > 0 {
			if rep.TilesEvicted, err = tc.EvictOlderThan(ctx, days); err != nil {
				fail("tile eviction", err)
			}
		}
		if rep.TileBytes, err = tc.CacheSizeBytes(); err != nil {
			fail("tile size", err)
		}
	}

	slog.Info("Cache maintenance completed",
		"stores_imported", rep.StoresImported,
		"routes_purged", rep.RoutesPurged,
		"images_purged", rep.ImagesPurged,
		"tiles_evicted", rep.TilesEvicted,
		"tile_cache_mb", fmt.Sprintf("%.1f", float64(rep.TileBytes)/(1024*1024)),
	)

	return rep, errors.Join(errs...)
}

// ImportStores imports stores from a CSV seed file, skipping the import when
// the file's mtime matches the last imported one. A missing path or file is
// not an error. Rows without an id or with unparsable coordinates are skipped.
func ImportStores(ctx context.Context, s Records, csvPath string) (int, error) {
	if csvPath == "" {
		return 0, nil
	}
	info, err := os.Stat(csvPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat csv: %w", err)
	}

	fileMTime := info.ModTime().UTC().Format(time.RFC3339Nano)
	if stored, found := s.GetState(ctx, StoresCSVStateKey); found && stored == fileMTime {
		logging.TraceDefault("Seed file unchanged, skipping import", "path", csvPath)
		return 0, nil
	}

	slog.Info("Importing stores from CSV...", "path", csvPath)

	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}

	idxMap := make(map[string]int, len(headers))
	for i, h := range headers {
		idxMap[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idxMap["id"]; !ok {
		return 0, errors.New("csv header has no id column")
	}

	count, err := processStoreRows(ctx, s, reader, idxMap)
	if err != nil {
		return count, err
	}

	slog.Info("Imported stores", "count", count)

	if err := s.SetState(ctx, StoresCSVStateKey, fileMTime); err != nil {
		return count, fmt.Errorf("failed to update state: %w", err)
	}
	return count, nil
}

func processStoreRows(ctx context.Context, s Records, reader *csv.Reader, idxMap map[string]int) (int, error) {
	get := func(row []string, col string) string {
		if i, ok := idxMap[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	count := 0
	batch := make([]*model.Store, 0, importBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.SaveStores(ctx, batch); err != nil {
			return fmt.Errorf("failed to save stores: %w", err)
		}
		count += len(batch)
		batch = batch[:0]
		return nil
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return count, fmt.Errorf("csv read error: %w", err)
		}

		st, ok := parseStore(record, get)
		if !ok {
			slog.Warn("Skipping invalid seed row", "line", line)
			continue
		}
		batch = append(batch, st)

		if len(batch) == importBatch {
			if err := flush(); err != nil {
				return count, err
			}
		}
	}
	if err := flush(); err != nil {
		return count, err
	}
	return count, nil
}

func parseStore(row []string, get func([]string, string) string) (*model.Store, bool) {
	st := &model.Store{
		ID:          get(row, "id"),
		Name:        get(row, "name"),
		Address:     get(row, "address"),
		Description: get(row, "description"),
		Phone:       get(row, "phone"),
	}
	if st.ID == "" {
		return nil, false
	}

	lat, err := strconv.ParseFloat(get(row, "latitude"), 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, false
	}
	lon, err := strconv.ParseFloat(get(row, "longitude"), 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, false
	}
	st.Lat, st.Lon = lat, lon

	st.CreatedAt = parseTime(get(row, "created_at"))
	st.UpdatedAt = parseTime(get(row, "updated_at"))
	return st, true
}

// parseTime accepts RFC 3339 or "2006-01-02 15:04:05" (UTC). Anything else is zero.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return t
	}
	return time.Time{}
}
