package tracker

import (
	"sync"
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()
	provider := "tile.example.org"

	// Test Initial State
	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	// Test Tracking
	tr.TrackCacheHit(provider)
	tr.TrackCacheMiss(provider)
	tr.TrackFetchSuccess(provider, 2048)
	tr.TrackFetchFailure(provider)

	// Verify Snapshot
	stats = tr.Snapshot()
	pStats, ok := stats[provider]
	if !ok {
		t.Fatalf("Expected stats for provider %s", provider)
	}

	if pStats.CacheHits != 1 {
		t.Errorf("Expected 1 CacheHit, got %d", pStats.CacheHits)
	}
	if pStats.CacheMisses != 1 {
		t.Errorf("Expected 1 CacheMiss, got %d", pStats.CacheMisses)
	}
	if pStats.FetchSuccess != 1 {
		t.Errorf("Expected 1 FetchSuccess, got %d", pStats.FetchSuccess)
	}
	if pStats.FetchFailure != 1 {
		t.Errorf("Expected 1 FetchFailure, got %d", pStats.FetchFailure)
	}
	if pStats.BytesFetched != 2048 {
		t.Errorf("Expected 2048 bytes, got %d", pStats.BytesFetched)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackFetchSuccess("a", 10)
			tr.TrackCacheHit("b")
		}()
	}
	wg.Wait()

	stats := tr.Snapshot()
	if stats["a"].FetchSuccess != 50 || stats["a"].BytesFetched != 500 {
		t.Errorf("Unexpected stats for a: %+v", stats["a"])
	}
	if stats["b"].CacheHits != 50 {
		t.Errorf("Unexpected stats for b: %+v", stats["b"])
	}
	if got := tr.Providers(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Providers() = %v", got)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := New()
	tr.TrackCacheMiss("p")
	tr.Reset()
	if len(tr.Snapshot()) != 0 {
		t.Error("Expected empty stats after Reset")
	}
}
