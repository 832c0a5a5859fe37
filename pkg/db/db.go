package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Collection names, one per record kind. Each carries its own schema version.
const (
	CollectionStores = "stores"
	CollectionRoutes = "routes"
	CollectionImages = "store_images"
	CollectionState  = "persistent_state"
)

// migration lists the schema steps of one collection; steps[i] moves it to version i+1.
type migration struct {
	collection string
	steps      []string
}

var migrations = []migration{
	{
		collection: CollectionStores,
		steps: []string{
			`CREATE TABLE IF NOT EXISTS stores (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				address TEXT NOT NULL DEFAULT '',
				lat REAL NOT NULL DEFAULT 0,
				lon REAL NOT NULL DEFAULT 0,
				description TEXT,
				phone TEXT,
				created_at INTEGER,
				updated_at INTEGER,
				last_synced_at INTEGER
			);`,
			`CREATE INDEX IF NOT EXISTS idx_stores_lat_lon ON stores (lat, lon);`,
		},
	},
	{
		collection: CollectionRoutes,
		steps: []string{
			`CREATE TABLE IF NOT EXISTS routes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				from_location TEXT NOT NULL,
				to_location TEXT NOT NULL,
				route_data TEXT,
				distance_m REAL NOT NULL DEFAULT 0,
				duration_s INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				last_used_at INTEGER
			);`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_routes_pair ON routes (from_location, to_location);`,
			`CREATE INDEX IF NOT EXISTS idx_routes_last_used ON routes (last_used_at);`,
		},
	},
	{
		collection: CollectionImages,
		steps: []string{
			`CREATE TABLE IF NOT EXISTS store_images (
				id TEXT PRIMARY KEY,
				store_id TEXT NOT NULL DEFAULT '',
				remote_url TEXT,
				local_path TEXT,
				external_id TEXT,
				width INTEGER NOT NULL DEFAULT 0,
				height INTEGER NOT NULL DEFAULT 0,
				file_size INTEGER NOT NULL DEFAULT 0,
				is_uploaded BOOLEAN NOT NULL DEFAULT 0,
				last_synced_at INTEGER
			);`,
			`CREATE INDEX IF NOT EXISTS idx_store_images_store ON store_images (store_id);`,
		},
	},
	{
		collection: CollectionState,
		steps: []string{
			`CREATE TABLE IF NOT EXISTS persistent_state (
				key TEXT PRIMARY KEY,
				value TEXT,
				created_at INTEGER
			);`,
		},
	},
}

// Init opens the database and runs migrations. It is safe to call on every
// start: collections already at their latest version are left untouched.
func Init(path string) (*DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Single connection: pragmas below stick to it and concurrent writers queue
	// in database/sql instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// SchemaVersion returns the applied schema version of a collection, 0 if none.
func (d *DB) SchemaVersion(collection string) (int, error) {
	var v int
	err := d.QueryRow("SELECT version FROM schema_versions WHERE collection = ?", collection).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (d *DB) migrate() error {
	if _, err := d.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		collection TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	);`); err != nil {
		return fmt.Errorf("exec error: %w", err)
	}

	for _, m := range migrations {
		if err := d.migrateCollection(m); err != nil {
			return fmt.Errorf("%s: %w", m.collection, err)
		}
	}
	return nil
}

func (d *DB) migrateCollection(m migration) error {
	current, err := d.SchemaVersion(m.collection)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > len(m.steps) {
		return fmt.Errorf("schema version %d is newer than supported %d", current, len(m.steps))
	}
	if current == len(m.steps) {
		return nil
	}

	tx, err := d.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := current; i < len(m.steps); i++ {
		if _, err := tx.Exec(m.steps[i]); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, m.steps[i])
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_versions (collection, version) VALUES (?, ?)
		 ON CONFLICT(collection) DO UPDATE SET version = excluded.version`,
		m.collection, len(m.steps),
	); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}
