package datasource

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/status"
)

// LoadFunc loads one source on demand. See Orchestrator.GetOneSourceData
// for the meaning of extra and of the return value.
type LoadFunc func(ctx context.Context, params any, extra ...any) any

// Entry is the lifecycle record of one data source
type Entry struct {
	Status status.SourceStatus
	Data   any
	Err    error

	load LoadFunc
}

// Load loads the source on demand
func (e Entry) Load(ctx context.Context, params any, extra ...any) any {
	if e.load == nil {
		return nil
	}
	return e.load(ctx, params, extra...)
}

// Snapshot converts the entry into its persisted form
func (e Entry) Snapshot() status.SourceSnapshot {
	s := status.SourceSnapshot{
		Status: e.Status,
		Data:   e.Data,
	}
	if e.Err != nil {
		s.Error = e.Err.Error()
	}
	return s
}

// Registry maps source ids to their lifecycle records. Its keys are always
// the ids of the current configuration.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string

	// loader binds the on-demand loader of a new entry
	loader func(id string) LoadFunc
}

func newRegistry(loader func(id string) LoadFunc) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		loader:  loader,
	}
}

// build resets the registry to fresh init entries for the given sources
func (r *Registry) build(list []config.SourceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*Entry, len(list))
	r.order = r.order[:0]
	for _, item := range list {
		r.addLocked(item.ID)
	}
}

// reconcile drops entries whose id left the configuration and adds init
// entries for new ids. Entries for ids present before and after keep their
// status, data and error.
func (r *Registry) reconcile(list []config.SourceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := make(map[string]bool, len(list))
	for _, item := range list {
		keep[item.ID] = true
	}
	for id := range r.entries {
		if !keep[id] {
			delete(r.entries, id)
		}
	}

	r.order = r.order[:0]
	for _, item := range list {
		if _, ok := r.entries[item.ID]; ok {
			if !slices.Contains(r.order, item.ID) {
				r.order = append(r.order, item.ID)
			}
			continue
		}
		r.addLocked(item.ID)
	}
}

func (r *Registry) addLocked(id string) {
	if _, ok := r.entries[id]; ok {
		return
	}
	entry := &Entry{Status: status.StatusInit}
	if r.loader != nil {
		entry.load = r.loader(id)
	}
	r.entries[id] = entry
	r.order = append(r.order, id)
}

// setStatus changes the status of an entry. Unknown ids are ignored.
func (r *Registry) setStatus(id string, s status.SourceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[id]; ok {
		entry.Status = s
	}
}

// recordResult stores the outcome of a load. It panics when id is not
// registered: results are only ever recorded for sources of the current
// configuration.
func (r *Registry) recordResult(id string, data any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		panic(fmt.Sprintf("datasource: result recorded for unknown source %q", id))
	}

	entry.Data = data
	entry.Err = err
	if err != nil {
		entry.Status = status.StatusError
	} else {
		entry.Status = status.StatusLoaded
	}
}

// markFailed records err on id. Unknown ids are ignored.
func (r *Registry) markFailed(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[id]; ok {
		entry.Data = nil
		entry.Err = err
		entry.Status = status.StatusError
	}
}

// Get returns a copy of the entry for id
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// IDs returns the registered ids in configuration order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered sources
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Snapshot returns a copy of every entry keyed by id
func (r *Registry) Snapshot() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Entry, len(r.entries))
	for id, entry := range r.entries {
		out[id] = *entry
	}
	return out
}

// StatusSnapshot converts the registry into its persisted form
func (r *Registry) StatusSnapshot() *status.Snapshot {
	entries := r.Snapshot()

	snap := &status.Snapshot{
		CapturedAt: time.Now().UTC(),
		Sources:    make(map[string]status.SourceSnapshot, len(entries)),
	}
	for id, entry := range entries {
		snap.Sources[id] = entry.Snapshot()
	}
	return snap
}

func (r *Registry) statusCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, entry := range r.entries {
		counts[string(entry.Status)]++
	}
	return counts
}
