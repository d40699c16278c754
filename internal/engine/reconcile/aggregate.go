package reconcile

import (
	"Go2NetStats/internal/engine/flowstate"
	"Go2NetStats/internal/model"
	"iter"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxAge is the number of consecutive unconfirmed epochs tolerated before eviction.
const DefaultMaxAge = 9

// Report summarizes one refresh + aggregation pass over a table.
type Report struct {
	Registered    int // flows inserted into the new map by the refresh
	Drained       int // removed flows accounted for
	EvictedOld    int // sampled flows evicted by aging
	EvictedNew    int // never sampled flows evicted by aging
	ActiveFlows   int // old-map entries that contributed a diff
	PublishedKeys int
}

// Aggregator reconciles the per-flow samples of one table into per-LogicalKey deltas.
type Aggregator struct {
	KeyFunc KeyFunc
	MaxAge  uint32
	Logger  *log.Entry
}

// NewAggregator creates an Aggregator. A zero maxAge selects DefaultMaxAge.
func NewAggregator(keyFn KeyFunc, maxAge uint32, logger *log.Entry) *Aggregator {
	if keyFn == nil {
		keyFn = ByCookie
	}
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Aggregator{KeyFunc: keyFn, MaxAge: maxAge, Logger: logger}
}

// Refresh registers every enumerated flow not tracked yet and ages the
// entries of the new map that were already there. Each still unsampled entry
// ages exactly once per call, whether or not it was enumerated again.
func (a *Aggregator) Refresh(s *flowstate.State, flows iter.Seq[model.FlowKey], report *Report) {
	inserted := make(map[model.FlowKey]struct{})
	for key := range flows {
		if s.Locate(key) != flowstate.None {
			continue
		}
		// Insert cannot fail: the key was just checked.
		_ = s.Insert(flowstate.New, key, &flowstate.Sample{})
		inserted[key] = struct{}{}
	}
	s.Range(flowstate.New, func(key model.FlowKey, sample *flowstate.Sample) {
		if _, ok := inserted[key]; !ok {
			sample.Age++
		}
	})
	if report != nil {
		report.Registered += len(inserted)
	}
}

// Aggregate runs the three ordered passes over the table: old-map
// reconciliation, removed-map drain and eviction. Keys whose packet delta is
// zero are left out of the result.
func (a *Aggregator) Aggregate(s *flowstate.State, report *Report) model.CounterMap {
	if report == nil {
		report = &Report{}
	}
	totals := make(model.CounterMap)

	s.Range(flowstate.Old, func(key model.FlowKey, sample *flowstate.Sample) {
		if !sample.Visited {
			sample.Age++
			if sample.Age >= a.MaxAge {
				a.Logger.Debugf("Unvisited entry for last %d polling intervals: %s", a.MaxAge, key)
			}
			return
		}
		if sample.HasDiff && sample.DiffPackets != 0 {
			lk := a.KeyFunc(key)
			totals[lk] = totals[lk].Add(model.Counters{Packets: sample.DiffPackets, Bytes: sample.DiffBytes})
			sample.SetDiff(0, 0)
			sample.Age = 0
			report.ActiveFlows++
		}
		// The diff must be confirmed by a new reply before it is trusted again.
		sample.Visited = false
	})

	s.Range(flowstate.Removed, func(key model.FlowKey, sample *flowstate.Sample) {
		if !sample.HasDiff {
			return
		}
		lk := a.KeyFunc(key)
		totals[lk] = totals[lk].Add(model.Counters{Packets: sample.DiffPackets, Bytes: sample.DiffBytes})
		report.Drained++
	})
	s.Clear(flowstate.Removed)

	report.EvictedOld += s.EraseIf(flowstate.Old, func(key model.FlowKey, sample *flowstate.Sample) bool {
		return !sample.Visited && sample.Age >= a.MaxAge
	})
	report.EvictedNew += s.EraseIf(flowstate.New, func(key model.FlowKey, sample *flowstate.Sample) bool {
		if sample.Age < a.MaxAge {
			return false
		}
		a.Logger.Debugf("Never sampled entry for last %d polling intervals: %s", a.MaxAge, key)
		return true
	})

	for lk, c := range totals {
		if c.Packets == 0 {
			delete(totals, lk)
		}
	}
	report.PublishedKeys = len(totals)
	return totals
}
