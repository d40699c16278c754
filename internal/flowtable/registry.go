package flowtable

import (
	"Go2NetStats/internal/model"
	"iter"
	"slices"
	"sync"
)

// Registry keeps the flows currently programmed in each switch table, as last
// announced by the switch. It implements model.FlowEnumerator.
type Registry struct {
	mu     sync.RWMutex
	tables map[model.TableID][]model.FlowKey
	// untracked holds announced flows that are not reconciled, so that
	// later announcements do not register them again.
	untracked map[model.TableID]map[model.FlowKey]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:    make(map[model.TableID][]model.FlowKey),
		untracked: make(map[model.TableID]map[model.FlowKey]struct{}),
	}
}

// Replace swaps the flow list of a table for a new announcement. Untracked
// flows are left out; an untracked flow missing from the announcement is
// forgotten.
func (r *Registry) Replace(table model.TableID, flows []model.FlowKey) {
	cp := make([]model.FlowKey, 0, len(flows))
	r.mu.Lock()
	defer r.mu.Unlock()
	skip := r.untracked[table]
	seen := make(map[model.FlowKey]struct{}, len(skip))
	for _, k := range flows {
		if _, ok := skip[k]; ok {
			seen[k] = struct{}{}
			continue
		}
		cp = append(cp, k)
	}
	for k := range skip {
		if _, ok := seen[k]; !ok {
			delete(skip, k)
		}
	}
	r.tables[table] = cp
}

// Untrack removes a flow and keeps it out of later announcements while the
// switch keeps announcing it.
func (r *Registry) Untrack(table model.TableID, key model.FlowKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	skip := r.untracked[table]
	if skip == nil {
		skip = make(map[model.FlowKey]struct{})
		r.untracked[table] = skip
	}
	if _, ok := skip[key]; ok {
		return
	}
	skip[key] = struct{}{}
	r.removeLocked(table, key)
}

// Remove forgets a single flow.
func (r *Registry) Remove(table model.TableID, key model.FlowKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(table, key)
}

func (r *Registry) removeLocked(table model.TableID, key model.FlowKey) {
	flows := r.tables[table]
	if i := slices.Index(flows, key); i >= 0 {
		r.tables[table] = slices.Delete(slices.Clone(flows), i, i+1)
	}
}

// Len returns the number of flows known for a table.
func (r *Registry) Len(table model.TableID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables[table])
}

// Flows yields a snapshot of the flows of a table. The snapshot is taken when
// iteration starts, so callers may hold other locks while ranging over it.
func (r *Registry) Flows(table model.TableID) iter.Seq[model.FlowKey] {
	return func(yield func(model.FlowKey) bool) {
		r.mu.RLock()
		flows := r.tables[table]
		r.mu.RUnlock()
		for _, k := range flows {
			if !yield(k) {
				return
			}
		}
	}
}
