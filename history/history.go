// Package history keeps the in-memory log of finalized transcripts.
package history

import (
	"sync"

	"go.mozhi.app/mozhi/internal/types"
)

// Log is an append-only, insertion-ordered record log. Records are never
// mutated or removed; the log lives for the process lifetime only.
type Log struct {
	mu      sync.RWMutex
	records []types.HistoryRecord
}

// NewLog creates an empty history log.
func NewLog() *Log {
	return &Log{}
}

// Add appends a finalized record.
func (l *Log) Add(rec types.HistoryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Records returns a copy of the log, newest first.
func (l *Log) Records() []types.HistoryRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.HistoryRecord, len(l.records))
	for i, rec := range l.records {
		out[len(l.records)-1-i] = rec
	}
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
