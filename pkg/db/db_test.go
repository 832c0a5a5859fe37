package db_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"m4cache/pkg/db"
)

func TestDB(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if d == nil {
		t.Fatal("Init() returned nil DB")
	}
	d.Close()
}

func TestInit_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db3")

	for i := 0; i < 2; i++ {
		d, err := db.Init(path)
		if err != nil {
			t.Fatalf("Init() run %d failed: %v", i, err)
		}
		for _, c := range []string{db.CollectionStores, db.CollectionRoutes, db.CollectionImages, db.CollectionState} {
			v, err := d.SchemaVersion(c)
			if err != nil {
				t.Fatalf("SchemaVersion(%s) failed: %v", c, err)
			}
			if v == 0 {
				t.Errorf("collection %s not migrated", c)
			}
		}
		d.Close()
	}
}

func TestInit_FailsOnDirectoryPath(t *testing.T) {
	dir := t.TempDir()
	// A directory cannot be opened as a database file.
	if err := os.MkdirAll(filepath.Join(dir, "cache.db3"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Init(filepath.Join(dir, "cache.db3")); err == nil {
		t.Fatal("expected error opening a directory as database")
	}
}

func TestConnector_SingleInit(t *testing.T) {
	c := db.NewConnector(filepath.Join(t.TempDir(), "cache.db3"))
	defer c.Close()

	ctx := context.Background()
	const n = 16
	got := make([]*db.DB, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := c.Get(ctx)
			if err != nil {
				t.Errorf("Get() failed: %v", err)
				return
			}
			got[i] = d
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("Get() returned different connections: %p vs %p", got[i], got[0])
		}
	}
}

func TestConnector_RetriesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	// A regular file where the parent directory should be makes Init fail.
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := db.NewConnector(filepath.Join(blocker, "cache.db3"))

	if _, err := c.Get(context.Background()); err == nil {
		t.Fatal("expected first Get to fail")
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	d, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if d == nil {
		t.Fatal("nil connection after retry")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}
