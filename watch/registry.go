package watch

import (
	"context"
	"log/slog"
	"sync"
)

type record struct {
	filter TableFilter
	sender *Sender
}

// Registry maps watcher ids to their filters and senders.
//
// Add and Remove take the lock exclusively; dispatch holds it shared for the
// whole fan-out, so Remove returning guarantees that no further event reaches
// the removed watcher. Nothing called during dispatch re-enters the registry.
type Registry struct {
	mu      sync.RWMutex
	records map[uint64]record
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records: make(map[uint64]record),
		logger:  logger,
	}
}

func (r *Registry) Add(id uint64, filter TableFilter, sender *Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = record{filter, sender}
}

// Remove unregisters the watcher and closes its sender. Returns false if the
// id is not registered.
func (r *Registry) Remove(id uint64) bool {
	r.mu.Lock()
	rec, found := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()
	if found {
		rec.sender.Close()
	}
	return found
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Dispatch sends ev to every watcher whose filter matches and returns the
// number of successful sends.
func (r *Registry) Dispatch(ev Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dispatchLocked(ev)
}

// Flush dispatches all events of b in order, under a single shared lock, and
// resets b.
func (r *Registry) Flush(b *Batch) int {
	if b.Len() == 0 {
		return 0
	}
	r.mu.RLock()
	var n int
	for _, ev := range b.Events() {
		n += r.dispatchLocked(ev)
	}
	r.mu.RUnlock()
	b.Reset()
	return n
}

func (r *Registry) dispatchLocked(ev Event) int {
	var n int
	for id, rec := range r.records {
		if !rec.filter.Matches(ev) {
			continue
		}
		// a closed receiver stays registered until unwatched
		if err := rec.sender.Send(ev); err != nil {
			r.logger.LogAttrs(context.Background(), slog.LevelDebug, "watch: send failed", slog.Uint64("watcher", id), slog.String("event", ev.String()), slog.Any("err", err))
			continue
		}
		n++
	}
	return n
}

// CloseAll unregisters every watcher, closing their senders.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	records := r.records
	r.records = make(map[uint64]record)
	r.mu.Unlock()
	for _, rec := range records {
		rec.sender.Close()
	}
}
