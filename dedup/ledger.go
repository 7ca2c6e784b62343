// Package dedup provides a time-bounded set of seen transaction hashes
// shared by the concurrent ingestion producers.
package dedup

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger records which transaction hashes have already entered the
// processing pipeline. All methods are safe for concurrent use; the
// check-then-mark step is atomic so two producers observing the same hash
// cannot both proceed.
//
// Entries are not evicted individually. The owning service calls Clear on a
// fixed interval as a coarse bound on memory growth, accepting that a hash
// reappearing after a clear is reprocessed; the store's unique-key
// constraint absorbs the resulting duplicate write.
type Ledger struct {
	mu   sync.Mutex
	seen map[common.Hash]time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[common.Hash]time.Time)}
}

// MarkSeen records hash and reports whether it was new. A false return
// means another caller already marked it and the transaction must be
// dropped.
func (l *Ledger) MarkSeen(hash common.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[hash]; ok {
		return false
	}
	l.seen[hash] = time.Now()
	return true
}

// Seen reports whether hash is currently in the ledger.
func (l *Ledger) Seen(hash common.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[hash]
	return ok
}

// FirstSeen returns when hash was first marked, if it is in the ledger.
func (l *Ledger) FirstSeen(hash common.Hash) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.seen[hash]
	return at, ok
}

// Len returns the number of entries in the ledger.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Clear drops all entries.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = make(map[common.Hash]time.Time)
}
