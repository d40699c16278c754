package reconcile

import (
	"Go2NetStats/internal/engine/flowstate"
	"Go2NetStats/internal/model"
)

// Outcome reports what a handler did with an incoming sample.
type Outcome int

const (
	// Ignored means the flow is unknown to the new and old maps.
	Ignored Outcome = iota
	// Baseline means a first sample promoted the flow from the new to the old map.
	Baseline
	// Updated means a diff was computed for an already sampled flow.
	Updated
	// Regressed means the counters went backwards and the baseline was reset.
	Regressed
	// Removed means the flow moved to the removed map.
	Removed
)

func (o Outcome) String() string {
	switch o {
	case Baseline:
		return "baseline"
	case Updated:
		return "updated"
	case Regressed:
		return "regressed"
	case Removed:
		return "removed"
	default:
		return "ignored"
	}
}

// ApplyStatsReply folds one FLOW_STATS_REPLY entry into the table state.
func ApplyStatsReply(s *flowstate.State, key model.FlowKey, packets, bytes uint64) Outcome {
	if s.Move(flowstate.New, flowstate.Old, key, func(*flowstate.Sample) *flowstate.Sample {
		// The first sample only establishes the baseline: the flow may have
		// existed long before we started tracking it.
		sample := &flowstate.Sample{LastPackets: packets, LastBytes: bytes}
		sample.SetDiff(0, 0)
		return sample
	}) {
		return Baseline
	}

	sample, ok := s.Lookup(flowstate.Old, key)
	if !ok {
		return Ignored
	}

	outcome := Updated
	if packets < sample.LastPackets || bytes < sample.LastBytes {
		// The entry was reprogrammed behind our back with a fresh counter.
		sample.SetDiff(0, 0)
		outcome = Regressed
	} else {
		sample.SetDiff(packets-sample.LastPackets, bytes-sample.LastBytes)
	}
	sample.LastPackets = packets
	sample.LastBytes = bytes
	sample.Visited = true
	sample.Age = 0
	return outcome
}

// ApplyFlowRemoved folds one FLOW_REMOVED notification into the table state.
func ApplyFlowRemoved(s *flowstate.State, key model.FlowKey, finalPackets, finalBytes uint64) Outcome {
	if s.Move(flowstate.New, flowstate.Removed, key, func(*flowstate.Sample) *flowstate.Sample {
		// Never sampled: the baseline is zero, so the whole count is unpublished.
		removed := &flowstate.Sample{}
		removed.SetDiff(finalPackets, finalBytes)
		return removed
	}) {
		return Removed
	}

	if s.Move(flowstate.Old, flowstate.Removed, key, func(cur *flowstate.Sample) *flowstate.Sample {
		var packets, bytes uint64
		if cur.HasDiff {
			packets, bytes = cur.DiffPackets, cur.DiffBytes
		}
		if finalPackets >= cur.LastPackets && finalBytes >= cur.LastBytes {
			packets += finalPackets - cur.LastPackets
			bytes += finalBytes - cur.LastBytes
		}
		removed := &flowstate.Sample{LastPackets: finalPackets, LastBytes: finalBytes}
		removed.SetDiff(packets, bytes)
		return removed
	}) {
		return Removed
	}
	return Ignored
}
