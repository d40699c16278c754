package flowstate

import (
	"Go2NetStats/internal/model"
	"fmt"
)

// Sample is the mutable per-flow counter state.
type Sample struct {
	// Last observed absolute counters. Zero until the first sample.
	LastPackets uint64
	LastBytes   uint64

	// Unpublished delta since the last aggregation pass. HasDiff is false
	// for an entry that never produced a diff.
	HasDiff     bool
	DiffPackets uint64
	DiffBytes   uint64

	// Visited is set when a stats reply updated the entry since the last aggregation pass.
	Visited bool
	// Age counts consecutive aggregation passes without a sample.
	Age uint32
}

// SetDiff records an unpublished delta.
func (s *Sample) SetDiff(packets, bytes uint64) {
	s.HasDiff = true
	s.DiffPackets = packets
	s.DiffBytes = bytes
}

// Map selects one of the three maps of a State.
type Map int

const (
	None Map = iota
	New
	Old
	Removed
)

func (m Map) String() string {
	switch m {
	case New:
		return "new"
	case Old:
		return "old"
	case Removed:
		return "removed"
	default:
		return "none"
	}
}

// State holds the flow samples of one monitored table.
// A FlowKey is present in at most one of the three maps.
//
// State is not safe for concurrent use; the owning stats manager serializes access.
type State struct {
	newFlows     map[model.FlowKey]*Sample
	oldFlows     map[model.FlowKey]*Sample
	removedFlows map[model.FlowKey]*Sample
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		newFlows:     make(map[model.FlowKey]*Sample),
		oldFlows:     make(map[model.FlowKey]*Sample),
		removedFlows: make(map[model.FlowKey]*Sample),
	}
}

func (s *State) mapOf(m Map) map[model.FlowKey]*Sample {
	switch m {
	case New:
		return s.newFlows
	case Old:
		return s.oldFlows
	case Removed:
		return s.removedFlows
	default:
		panic(fmt.Sprintf("flowstate: invalid map %d", m))
	}
}

// Locate returns the map currently holding key, or None.
func (s *State) Locate(key model.FlowKey) Map {
	if _, ok := s.newFlows[key]; ok {
		return New
	}
	if _, ok := s.oldFlows[key]; ok {
		return Old
	}
	if _, ok := s.removedFlows[key]; ok {
		return Removed
	}
	return None
}

// Lookup returns the sample for key in map m.
func (s *State) Lookup(m Map, key model.FlowKey) (*Sample, bool) {
	sample, ok := s.mapOf(m)[key]
	return sample, ok
}

// Insert adds a fresh sample for key to map m. It fails if the key is already
// tracked in any map.
func (s *State) Insert(m Map, key model.FlowKey, sample *Sample) error {
	if cur := s.Locate(key); cur != None {
		return fmt.Errorf("flow %s already tracked in %s map", key, cur)
	}
	s.mapOf(m)[key] = sample
	return nil
}

// Move transfers key from map from to map to, replacing its sample with the
// one returned by fn. fn receives the current sample.
func (s *State) Move(from, to Map, key model.FlowKey, fn func(cur *Sample) *Sample) bool {
	src := s.mapOf(from)
	cur, ok := src[key]
	if !ok {
		return false
	}
	next := fn(cur)
	delete(src, key)
	s.mapOf(to)[key] = next
	return true
}

// Erase deletes key from map m.
func (s *State) Erase(m Map, key model.FlowKey) {
	delete(s.mapOf(m), key)
}

// Range calls fn for every entry of map m. fn may mutate the sample but must
// not insert into or erase from m; use EraseIf for that.
func (s *State) Range(m Map, fn func(key model.FlowKey, sample *Sample)) {
	for k, v := range s.mapOf(m) {
		fn(k, v)
	}
}

// EraseIf deletes every entry of map m for which pred returns true and
// returns the number of entries deleted.
func (s *State) EraseIf(m Map, pred func(key model.FlowKey, sample *Sample) bool) int {
	src := s.mapOf(m)
	n := 0
	for k, v := range src {
		if pred(k, v) {
			delete(src, k)
			n++
		}
	}
	return n
}

// Clear empties map m.
func (s *State) Clear(m Map) {
	clear(s.mapOf(m))
}

// Len returns the number of entries in map m.
func (s *State) Len(m Map) int {
	return len(s.mapOf(m))
}

// Sizes is a point-in-time count of entries per map.
type Sizes struct {
	New     int `json:"new"`
	Old     int `json:"old"`
	Removed int `json:"removed"`
}

// Sizes returns the current number of entries in each map.
func (s *State) Sizes() Sizes {
	return Sizes{New: len(s.newFlows), Old: len(s.oldFlows), Removed: len(s.removedFlows)}
}
