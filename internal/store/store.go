package store

import (
	"sync"
	"time"

	"github.com/streambill/streambill/internal/billing"
)

// Ledger records purchase activity observed on the update stream so it can
// be inspected later. It is an observer's log, not an entitlement source:
// the vendor remains the only authority on purchase state.
type Ledger interface {
	Append(ev billing.UpdateEvent)
	Recent(limit int) []Entry
	Close() error
}

// Entry is one recorded update event.
type Entry struct {
	Time  time.Time           `json:"time"`
	Event billing.UpdateEvent `json:"event"`
}

// MemoryLedger keeps the most recent events in a bounded ring.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a ledger holding at most max entries.
func NewMemoryLedger(max int) *MemoryLedger {
	if max <= 0 {
		max = 256
	}
	return &MemoryLedger{max: max}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(ev billing.UpdateEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Time: time.Now().UTC(), Event: ev})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Recent implements Ledger, returning up to limit entries, newest first.
func (l *MemoryLedger) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= len(l.entries)-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Close implements Ledger.
func (l *MemoryLedger) Close() error {
	return nil
}
