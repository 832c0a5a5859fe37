package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Tracker counts tile cache and fetch outcomes per provider (tile server host).
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits    int64 // tiles served from or already present on disk
	CacheMisses  int64 // tiles that needed a fetch
	FetchSuccess int64
	FetchFailure int64
	BytesFetched int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

// TrackFetchSuccess records a completed fetch of n bytes.
func (t *Tracker) TrackFetchSuccess(provider string, n int64) {
	s := t.getStats(provider)
	atomic.AddInt64(&s.FetchSuccess, 1)
	atomic.AddInt64(&s.BytesFetched, n)
}

func (t *Tracker) TrackFetchFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).FetchFailure, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = ProviderStats{
			CacheHits:    atomic.LoadInt64(&v.CacheHits),
			CacheMisses:  atomic.LoadInt64(&v.CacheMisses),
			FetchSuccess: atomic.LoadInt64(&v.FetchSuccess),
			FetchFailure: atomic.LoadInt64(&v.FetchFailure),
			BytesFetched: atomic.LoadInt64(&v.BytesFetched),
		}
	}
	return result
}

// Providers returns the tracked provider names in sorted order.
func (t *Tracker) Providers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.stats))
	for k := range t.stats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = make(map[string]*ProviderStats)
}
