package events

import (
	"sort"
	"sync"
	"time"
)

// Window retains the most recent enriched transactions so that late
// subscribers and refresh calls can be served a snapshot. It keeps at most
// maxEntries records no older than maxAge, newest-first by transaction
// timestamp. Safe for concurrent use.
type Window struct {
	mu         sync.Mutex
	entries    []EnrichedTransaction
	maxEntries int
	maxAge     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewWindow creates a rolling window. Non-positive maxEntries or maxAge
// fall back to 20 entries and 5 minutes.
func NewWindow(maxEntries int, maxAge time.Duration) *Window {
	if maxEntries <= 0 {
		maxEntries = 20
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Window{
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Add inserts tx, evicting expired and overflow entries.
func (w *Window) Add(tx EnrichedTransaction) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.maxAge)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = append(kept, tx)

	sort.SliceStable(w.entries, func(i, j int) bool {
		return w.entries[i].Timestamp.After(w.entries[j].Timestamp)
	})
	if len(w.entries) > w.maxEntries {
		w.entries = w.entries[:w.maxEntries]
	}
}

// Snapshot returns the current window contents newest-first. The returned
// slice is a copy and safe to retain.
func (w *Window) Snapshot() []EnrichedTransaction {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.maxAge)
	out := make([]EnrichedTransaction, 0, len(w.entries))
	for _, e := range w.entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of unexpired entries.
func (w *Window) Len() int {
	return len(w.Snapshot())
}
