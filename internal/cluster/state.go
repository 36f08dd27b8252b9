// Package cluster implements specification component D: the membership
// manager that applies init/update events from the control channel onto a
// live map of worker handles (grounded on the models_run dict of
// model_cluster.py and the map+mutex registry idiom of the coordinator
// this module was adapted from).
package cluster

import (
	"sync"

	"github.com/crunchdao/model-runner-orchestrator/internal/worker"
)

// State is the live set of worker handles, keyed by worker (model) id. All
// methods are safe for concurrent use.
type State struct {
	mu      sync.RWMutex
	handles map[string]*worker.Handle
}

// NewState returns an empty cluster state.
func NewState() *State {
	return &State{handles: make(map[string]*worker.Handle)}
}

// Get returns the handle for id, if present.
func (s *State) Get(id string) (*worker.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	return h, ok
}

// Put inserts or overwrites the handle for its worker id.
func (s *State) Put(h *worker.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.WorkerID] = h
}

// Delete removes id from the live set, if present.
func (s *State) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, id)
}

// Snapshot returns a point-in-time copy of the live handles, safe to range
// over without holding the state lock.
func (s *State) Snapshot() []*worker.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*worker.Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// Len reports the number of live handles.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Shutdown closes every live handle. Used when the orchestrator process
// itself is stopping; it does not touch the map under lock while closing,
// since Close is safe to call concurrently with anything else.
func (s *State) Shutdown() {
	for _, h := range s.Snapshot() {
		_ = h.Close()
	}
}
