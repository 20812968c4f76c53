// Package dedup provides a bounded seen-key set guaranteeing at-most-once
// emission of log records across overlapping reads and re-scans.
package dedup

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/johns/agenttail/internal/record"
)

// DefaultCapacity bounds the seen set. Once exceeded, the oldest keys are
// evicted first; a duplicate older than the whole window can re-pass,
// which is the accepted trade-off for bounded memory.
const DefaultCapacity = 100_000

// Set is a capacity-bounded set of seen keys with FIFO eviction. Safe for
// concurrent use.
type Set struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	order []string
	head  int
	cap   int
}

// NewSet returns a Set holding at most capacity keys. A non-positive
// capacity falls back to DefaultCapacity.
func NewSet(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		keys: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

// TryMarkSeen inserts key and returns true if it was not already present.
// A false return means the caller must not emit the record.
func (s *Set) TryMarkSeen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return false
	}

	if len(s.keys) >= s.cap {
		oldest := s.order[s.head]
		delete(s.keys, oldest)
		s.order[s.head] = key
		s.head = (s.head + 1) % s.cap
	} else {
		s.order = append(s.order, key)
	}
	s.keys[key] = struct{}{}
	return true
}

// Len returns the current number of keys held.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// KeyFor derives the dedup identity of a record. Records carry a unique
// id on most lines; for those that do not (summaries, some snapshots) the
// identity is the type, timestamp and a content hash of the raw line.
func KeyFor(rec *record.Record, line []byte) string {
	if rec.UUID != "" {
		return rec.UUID
	}
	sum := blake3.Sum256(line)
	return string(rec.Type) + "|" +
		rec.Timestamp.UTC().Format(time.RFC3339Nano) + "|" +
		hex.EncodeToString(sum[:16])
}
