// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/caseinv/internal/triage"
)

// Store holds flow records in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	flows map[string]*triage.Flow // flow ID -> record
	order []string                // flow IDs, oldest first
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		flows: make(map[string]*triage.Flow),
	}
}

// Get retrieves a flow record by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Flow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, false, nil
	}
	return clone(f), true, nil
}

// Put stores a copy of the flow record.
func (s *Store) Put(_ context.Context, f *triage.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[f.ID]; !ok {
		s.order = append(s.order, f.ID)
	}
	s.flows[f.ID] = clone(f)
	return nil
}

// Recent returns copies of up to limit records, most recently created
// first. A non-positive limit returns every record.
func (s *Store) Recent(_ context.Context, limit int) ([]*triage.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*triage.Flow, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, clone(s.flows[s.order[i]]))
	}
	return out, nil
}

func clone(f *triage.Flow) *triage.Flow {
	cp := *f
	cp.Steps = slices.Clone(f.Steps)
	return &cp
}
