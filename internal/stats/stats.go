// Package stats records quota decisions (allowed vs denied per class)
// behind a pluggable recorder, so deployments can keep counters local or
// aggregate them in Redis across replicas. Recording is best effort: a
// failing recorder must never fail the request that triggered it.
package stats

import "context"

type Event struct {
	Class   string
	Allowed bool
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
	Snapshot(ctx context.Context) (map[string]uint64, error)
}
