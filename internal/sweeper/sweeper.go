// Package sweeper runs periodic maintenance jobs: expiring and purging
// pending postings, and dropping idle rate-limit windows.
package sweeper

import (
	"context"
	"log"
	"strconv"
	"time"

	"mangadrop/internal/clock"
	"mangadrop/internal/logging"
	"mangadrop/internal/metrics"
)

// SweepFunc performs one pass at the given instant and reports how many
// entries it touched.
type SweepFunc func(now time.Time) int

type Sweeper struct {
	name     string
	run      SweepFunc
	clock    clock.Clock
	interval time.Duration
	logger   *log.Logger
	liveness *Liveness
	metrics  *metrics.Counters
}

func New(name string, run SweepFunc, clk clock.Clock, interval time.Duration, logger *log.Logger, liveness *Liveness, counters *metrics.Counters) *Sweeper {
	return &Sweeper{
		name:     name,
		run:      run,
		clock:    clk,
		interval: interval,
		logger:   logger,
		liveness: liveness,
		metrics:  counters,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Sweeper) SweepOnce() {
	s.sweep()
}

func (s *Sweeper) sweep() {
	if s.metrics != nil {
		s.metrics.IncSweeperRuns()
	}
	count := s.run(s.clock.Now())
	if s.liveness != nil {
		s.liveness.Mark(s.clock.Now())
	}
	if count > 0 {
		logging.Allowlist(s.logger, map[string]string{
			"event": "sweep_complete",
			"job":   s.name,
			"count": strconv.Itoa(count),
		})
	}
}
