package model

import "iter"

// FlowEnumerator lists the flows currently configured in a table.
// It is implemented by the switch/table manager.
type FlowEnumerator interface {
	Flows(table TableID) iter.Seq[FlowKey]
}

// StatsRequester asks the switch for a new FLOW_STATS_REPLY of a table.
// Requests are fire-and-forget; replies arrive later through the message handlers.
type StatsRequester interface {
	RequestStats(table TableID) error
}
