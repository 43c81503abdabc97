package gateway

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// warnFilter suppresses repeated unauthorized-token warnings: each distinct
// token hash is logged once per window so a misconfigured fleet does not
// flood the logs. Rejection responses are never suppressed, only the log
// line. False positives from the bloom filter can skip a first log line,
// which is acceptable for diagnostics.
type warnFilter struct {
	mu      sync.Mutex
	filter  *bloom.BloomFilter
	window  time.Duration
	resetAt time.Time
}

const (
	warnFilterCapacity = 100_000
	warnFilterFPRate   = 0.01
)

func newWarnFilter(window time.Duration) *warnFilter {
	if window <= 0 {
		window = time.Hour
	}
	return &warnFilter{
		filter:  bloom.NewWithEstimates(warnFilterCapacity, warnFilterFPRate),
		window:  window,
		resetAt: time.Now().Add(window),
	}
}

// firstSighting reports whether this key has not been seen in the current
// window, adding it as a side effect.
func (w *warnFilter) firstSighting(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if now := time.Now(); now.After(w.resetAt) {
		w.filter.ClearAll()
		w.resetAt = now.Add(w.window)
	}
	return !w.filter.TestAndAddString(key)
}
