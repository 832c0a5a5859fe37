package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"m4cache/pkg/db"
	"m4cache/pkg/geo"
	"m4cache/pkg/model"
)

// ImageRetention is how long an image record survives without a sync.
const ImageRetention = 30 * 24 * time.Hour

// SQLiteStore implements Store.
type SQLiteStore struct {
	db             *db.DB
	now            func() time.Time
	imageRetention time.Duration
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock replaces the clock used for cache-owned timestamps and purge cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithImageRetention overrides ImageRetention for PurgeStaleImages.
func WithImageRetention(d time.Duration) Option {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.imageRetention = d
		}
	}
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{db: d, now: time.Now, imageRetention: ImageRetention}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Stores ---

const storeColumns = `id, name, address, lat, lon, description, phone, created_at, updated_at, last_synced_at`

func (s *SQLiteStore) SaveStore(ctx context.Context, st *model.Store) error {
	if st == nil || st.ID == "" {
		return fmt.Errorf("%w: store id is empty", ErrInvalidRecord)
	}
	return s.saveStore(ctx, s.db, st, s.now().UTC())
}

func (s *SQLiteStore) SaveStores(ctx context.Context, stores []*model.Store) error {
	for i, st := range stores {
		if st == nil || st.ID == "" {
			return fmt.Errorf("%w: store %d has empty id", ErrInvalidRecord, i)
		}
	}
	if len(stores) == 0 {
		return nil
	}

	now := s.now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, st := range stores {
			if err := s.saveStore(ctx, tx, st, now); err != nil {
				return fmt.Errorf("failed to save store %s: %w", st.ID, err)
			}
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) saveStore(ctx context.Context, ex execer, st *model.Store, now time.Time) error {
	query := `INSERT OR REPLACE INTO stores (` + storeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := ex.ExecContext(ctx, query,
		st.ID, st.Name, st.Address, st.Lat, st.Lon,
		nullString(st.Description), nullString(st.Phone),
		nanos(st.CreatedAt), nanos(st.UpdatedAt), nanos(now),
	)
	if err != nil {
		return err
	}
	st.LastSyncedAt = now
	return nil
}

func (s *SQLiteStore) GetStore(ctx context.Context, id string) (*model.Store, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = ?`, id)
	st, err := scanStore(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) ListStores(ctx context.Context) ([]*model.Store, error) {
	return s.queryStores(ctx, `SELECT `+storeColumns+` FROM stores`)
}

func (s *SQLiteStore) DeleteStore(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM stores WHERE id = ?", id)
	return err
}

// StoresNear returns stores within radiusMeters of (lat, lon), nearest first.
// A bounding box narrows the rows in SQL; the haversine check makes the cut.
func (s *SQLiteStore) StoresNear(ctx context.Context, lat, lon, radiusMeters float64) ([]*model.Store, error) {
	center := geo.Point{Lat: lat, Lon: lon}
	box := geo.BoundAround(center, radiusMeters)

	query := `SELECT ` + storeColumns + ` FROM stores WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?`
	if geo.CrossesAntimeridian(box) {
		query = `SELECT ` + storeColumns + ` FROM stores WHERE lat BETWEEN ? AND ? AND (lon >= ? OR lon <= ?)`
	}
	candidates, err := s.queryStores(ctx, query,
		box.Min.Lat(), box.Max.Lat(), box.Min.Lon(), box.Max.Lon())
	if err != nil {
		return nil, err
	}

	dist := make(map[string]float64, len(candidates))
	results := candidates[:0]
	for _, st := range candidates {
		d := geo.Distance(center, geo.Point{Lat: st.Lat, Lon: st.Lon})
		if d <= radiusMeters {
			dist[st.ID] = d
			results = append(results, st)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return dist[results[i].ID] < dist[results[j].ID]
	})
	return results, nil
}

func (s *SQLiteStore) queryStores(ctx context.Context, query string, args ...any) ([]*model.Store, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

func scanStore(row rowScanner) (*model.Store, error) {
	var st model.Store
	var description, phone sql.NullString
	var createdAt, updatedAt, lastSynced sql.NullInt64

	err := row.Scan(
		&st.ID, &st.Name, &st.Address, &st.Lat, &st.Lon,
		&description, &phone,
		&createdAt, &updatedAt, &lastSynced,
	)
	if err != nil {
		return nil, err
	}
	st.Description = description.String
	st.Phone = phone.String
	st.CreatedAt = fromNanos(createdAt)
	st.UpdatedAt = fromNanos(updatedAt)
	st.LastSyncedAt = fromNanos(lastSynced)
	return &st, nil
}

// --- Routes ---

const routeColumns = `id, from_location, to_location, route_data, distance_m, duration_s, created_at, last_used_at`

// SaveRoute upserts by (FromLocation, ToLocation). An existing route keeps its
// id and CreatedAt; LastUsedAt is refreshed either way. r is updated in place.
func (s *SQLiteStore) SaveRoute(ctx context.Context, r *model.Route) error {
	if r == nil || r.FromLocation == "" || r.ToLocation == "" {
		return fmt.Errorf("%w: route needs from and to locations", ErrInvalidRecord)
	}
	now := s.now().UTC()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		var createdAt sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM routes WHERE from_location = ? AND to_location = ?`,
			r.FromLocation, r.ToLocation).Scan(&id, &createdAt)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx,
				`INSERT INTO routes (from_location, to_location, route_data, distance_m, duration_s, created_at, last_used_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.FromLocation, r.ToLocation, nullString(r.RouteData), r.DistanceMeters, r.DurationSeconds,
				nanos(now), nanos(now))
			if err != nil {
				return err
			}
			if id, err = res.LastInsertId(); err != nil {
				return err
			}
			r.CreatedAt = now
		case err != nil:
			return err
		default:
			_, err = tx.ExecContext(ctx,
				`UPDATE routes SET route_data = ?, distance_m = ?, duration_s = ?, last_used_at = ? WHERE id = ?`,
				nullString(r.RouteData), r.DistanceMeters, r.DurationSeconds, nanos(now), id)
			if err != nil {
				return err
			}
			r.CreatedAt = fromNanos(createdAt)
		}

		r.ID = id
		r.LastUsedAt = now
		return nil
	})
}

func (s *SQLiteStore) GetRoute(ctx context.Context, from, to string) (*model.Route, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+routeColumns+` FROM routes WHERE from_location = ? AND to_location = ?`, from, to)
	r, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) ListRoutes(ctx context.Context) ([]*model.Route, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+routeColumns+` FROM routes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) DeleteRoute(ctx context.Context, from, to string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM routes WHERE from_location = ? AND to_location = ?", from, to)
	return err
}

// PurgeRoutesOlderThan deletes routes last used before now-olderThan, and
// routes that were never stamped. It returns the number of deleted routes.
func (s *SQLiteStore) PurgeRoutesOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM routes WHERE last_used_at IS NULL OR last_used_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRoute(row rowScanner) (*model.Route, error) {
	var r model.Route
	var routeData sql.NullString
	var createdAt, lastUsed sql.NullInt64

	err := row.Scan(&r.ID, &r.FromLocation, &r.ToLocation, &routeData,
		&r.DistanceMeters, &r.DurationSeconds, &createdAt, &lastUsed)
	if err != nil {
		return nil, err
	}
	r.RouteData = routeData.String
	r.CreatedAt = fromNanos(createdAt)
	r.LastUsedAt = fromNanos(lastUsed)
	return &r, nil
}

// --- Images ---

const imageColumns = `id, store_id, remote_url, local_path, external_id, width, height, file_size, is_uploaded, last_synced_at`

func (s *SQLiteStore) SaveImage(ctx context.Context, img *model.Image) error {
	if img == nil || img.ID == "" {
		return fmt.Errorf("%w: image id is empty", ErrInvalidRecord)
	}
	return s.saveImage(ctx, s.db, img, s.now().UTC())
}

func (s *SQLiteStore) SaveImages(ctx context.Context, imgs []*model.Image) error {
	for i, img := range imgs {
		if img == nil || img.ID == "" {
			return fmt.Errorf("%w: image %d has empty id", ErrInvalidRecord, i)
		}
	}
	if len(imgs) == 0 {
		return nil
	}

	now := s.now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, img := range imgs {
			if err := s.saveImage(ctx, tx, img, now); err != nil {
				return fmt.Errorf("failed to save image %s: %w", img.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) saveImage(ctx context.Context, ex execer, img *model.Image, now time.Time) error {
	query := `INSERT OR REPLACE INTO store_images (` + imageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := ex.ExecContext(ctx, query,
		img.ID, img.StoreID,
		nullString(img.RemoteURL), nullString(img.LocalPath), nullString(img.ExternalID),
		img.Width, img.Height, img.FileSizeBytes, img.IsUploaded, nanos(now),
	)
	if err != nil {
		return err
	}
	img.LastSyncedAt = now
	return nil
}

func (s *SQLiteStore) GetImage(ctx context.Context, id string) (*model.Image, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM store_images WHERE id = ?`, id)
	img, err := scanImage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return img, nil
}

func (s *SQLiteStore) ListImages(ctx context.Context) ([]*model.Image, error) {
	return s.queryImages(ctx, `SELECT `+imageColumns+` FROM store_images`)
}

func (s *SQLiteStore) GetImagesByStore(ctx context.Context, storeID string) ([]*model.Image, error) {
	return s.queryImages(ctx, `SELECT `+imageColumns+` FROM store_images WHERE store_id = ?`, storeID)
}

func (s *SQLiteStore) DeleteImage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM store_images WHERE id = ?", id)
	return err
}

// PurgeStaleImages deletes image records not synced within the image
// retention (ImageRetention unless overridden), and records never synced.
func (s *SQLiteStore) PurgeStaleImages(ctx context.Context) (int64, error) {
	return s.PurgeImagesOlderThan(ctx, s.imageRetention)
}

// PurgeImagesOlderThan deletes image records last synced before
// now-olderThan, and records never synced.
func (s *SQLiteStore) PurgeImagesOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM store_images WHERE last_synced_at IS NULL OR last_synced_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) queryImages(ctx context.Context, query string, args ...any) ([]*model.Image, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, img)
	}
	return results, rows.Err()
}

func scanImage(row rowScanner) (*model.Image, error) {
	var img model.Image
	var remoteURL, localPath, externalID sql.NullString
	var lastSynced sql.NullInt64

	err := row.Scan(&img.ID, &img.StoreID, &remoteURL, &localPath, &externalID,
		&img.Width, &img.Height, &img.FileSizeBytes, &img.IsUploaded, &lastSynced)
	if err != nil {
		return nil, err
	}
	img.RemoteURL = remoteURL.String
	img.LocalPath = localPath.String
	img.ExternalID = externalID.String
	img.LastSyncedAt = fromNanos(lastSynced)
	return &img, nil
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val.String, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, s.now().UnixNano())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// --- helpers ---

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Timestamps are stored as UTC unix nanoseconds so range comparisons in SQL are numeric.
func nanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
