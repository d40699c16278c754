package model

import "context"

// Publisher receives the aggregated deltas of one table once per polling epoch.
// Implementations own the cumulative state (policy objects, databases, caches).
type Publisher interface {
	// Publish applies a per-epoch delta. It must not retain d.Counters after returning.
	Publish(ctx context.Context, d Delta) error

	// Name identifies the publisher in logs and metrics.
	Name() string

	Close() error
}
