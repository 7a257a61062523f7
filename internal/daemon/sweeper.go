package daemon

import (
	"context"
	"time"
)

// TimeoutSweeper periodically applies the gating timeout policy. The sweep
// interval is a fraction of the hook timeout so a timed-out interaction is
// noticed promptly without busy-polling.
type TimeoutSweeper struct {
	Manager  *RunManager
	Interval time.Duration
}

func (s *TimeoutSweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Manager.SweepTimeouts(ctx, now.UTC())
		}
	}
}
