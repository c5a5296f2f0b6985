package stats

import (
	"context"
	"sync"
)

type MemoryRecorder struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{counters: map[string]uint64{}}
}

func (r *MemoryRecorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counterKey(ev)]++
	return nil
}

func (r *MemoryRecorder) Snapshot(_ context.Context) (map[string]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out, nil
}

func counterKey(ev Event) string {
	if ev.Allowed {
		return ev.Class + ":allowed"
	}
	return ev.Class + ":denied"
}
