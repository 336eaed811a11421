package fastpagi

import (
	"sort"
	"sync"
	"time"
)

// ChildEntry describes one live worker.
type ChildEntry struct {
	PID     int
	Started time.Time
	// ConnID identifies the connection the worker serves in the journal.
	ConnID string
	Remote string

	proc Worker
}

// ChildRegistry is the set of workers that have not been confirmed exited. It
// is safe to use from multiple goroutines. A zero-value instance is valid.
type ChildRegistry struct {
	mutex   sync.Mutex
	entries map[int]ChildEntry
}

// Add records a new live worker.
func (r *ChildRegistry) Add(entry ChildEntry) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.entries == nil {
		r.entries = make(map[int]ChildEntry)
	}
	r.entries[entry.PID] = entry
}

// Remove removes the worker with the given pid and returns its entry. Removing
// an unknown pid is a no-op that returns false.
func (r *ChildRegistry) Remove(pid int) (ChildEntry, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.entries[pid]
	if ok {
		delete(r.entries, pid)
	}
	return entry, ok
}

// Snapshot returns a copy of all entries ordered by pid.
func (r *ChildRegistry) Snapshot() []ChildEntry {
	r.mutex.Lock()
	entries := make([]ChildEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mutex.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].PID < entries[j].PID })
	return entries
}

// ForEach calls fn for every entry of a snapshot taken before the first call.
// fn may modify the registry.
func (r *ChildRegistry) ForEach(fn func(ChildEntry)) {
	for _, entry := range r.Snapshot() {
		fn(entry)
	}
}

// Len returns the number of live workers.
func (r *ChildRegistry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.entries)
}

// IsEmpty returns true if there are no live workers.
func (r *ChildRegistry) IsEmpty() bool {
	return r.Len() == 0
}
