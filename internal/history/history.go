// Package history records the outcome of the most recent execution of each
// operation. It is persisted separately from the operation graph so graph
// topology and execution outcomes can evolve independently.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// Result is the outcome of one real execution attempt.
type Result struct {
	WasSuccessful   bool
	EvaluateTime    time.Time
	ObservedInputs  []filereg.FileID
	ObservedOutputs []filereg.FileID
}

// History maps operations to their latest Result. Safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	results map[opgraph.OperationID]Result
}

// New creates an empty History.
func New() *History {
	return &History{results: make(map[opgraph.OperationID]Result)}
}

// Record stores r as the result of id, replacing any previous result.
func (h *History) Record(id opgraph.OperationID, r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[id] = r
}

// Get returns the latest result for id. Absence means the operation was
// never executed in a pass whose results were persisted.
func (h *History) Get(id opgraph.OperationID) (Result, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.results[id]
	return r, ok
}

// IDs returns the recorded operation ids in ascending order.
func (h *History) IDs() []opgraph.OperationID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]opgraph.OperationID, 0, len(h.results))
	for id := range h.results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of recorded operations.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.results)
}

// Prune drops results for which keep returns false and returns how many
// were removed.
func (h *History) Prune(keep func(opgraph.OperationID) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id := range h.results {
		if !keep(id) {
			delete(h.results, id)
			removed++
		}
	}
	return removed
}

// Files returns the distinct file ids referenced by any result, sorted.
func (h *History) Files() []filereg.FileID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[filereg.FileID]bool)
	for _, r := range h.results {
		for _, id := range r.ObservedInputs {
			seen[id] = true
		}
		for _, id := range r.ObservedOutputs {
			seen[id] = true
		}
	}
	ids := make([]filereg.FileID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
