// Package bus delivers accepted records to subscribers in one globally
// consistent order, with a side-channel for non-fatal diagnostics.
package bus

import (
	"sort"
	"sync"

	"github.com/johns/agenttail/internal/record"
)

// Handler receives each accepted record, one at a time.
type Handler func(*record.Record)

// ErrorHandler receives non-fatal diagnostics (parse failures, watcher
// setup problems). The main record stream is never interrupted by these.
type ErrorHandler func(error)

// Bus fans records out to subscribers. Publish is serialized: two
// concurrent producers never interleave deliveries, so every subscriber
// observes the same record order. Safe for concurrent use.
type Bus struct {
	emitMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]Handler
	errSubs map[int]ErrorHandler
	nextID  int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[int]Handler),
		errSubs: make(map[int]ErrorHandler),
	}
}

// Subscribe registers a record handler and returns its unsubscribe
// function. Unsubscribing is idempotent and safe to call mid-delivery,
// including from inside the handler itself.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// OnError registers an error handler and returns its unsubscribe function.
func (b *Bus) OnError(h ErrorHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.errSubs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.errSubs, id)
		b.mu.Unlock()
	}
}

// Publish delivers rec to every current subscriber. Deliveries for one
// record complete before the next Publish proceeds.
func (b *Bus) Publish(rec *record.Record) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	for _, h := range b.snapshot() {
		h(rec)
	}
}

// ReportError delivers a diagnostic to every error handler. Errors are
// serialized among themselves but never block Publish.
func (b *Bus) ReportError(err error) {
	if err == nil {
		return
	}

	b.mu.Lock()
	ids := make([]int, 0, len(b.errSubs))
	for id := range b.errSubs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]ErrorHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.errSubs[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// snapshot copies the current record handlers in subscription order, so a
// handler removed mid-delivery still receives the in-flight record but
// nothing after it.
func (b *Bus) snapshot() []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.subs[id])
	}
	return out
}
