package detection

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drives the detector on a fixed interval. Overlap protection lives
// in the detector itself, so a slow sweep causes the next tick to skip
// rather than queue.
type Sweeper struct {
	detector *Detector
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(detector *Detector, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{detector: detector, interval: interval, logger: logger}
}

// Run blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "detection sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "detection sweeper stopped")
			return
		case <-ticker.C:
			created, err := s.detector.Sweep(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "detection sweep finished with errors",
					"incidents_created", created,
					"error", err,
				)
				continue
			}
			if created > 0 {
				s.logger.InfoContext(ctx, "detection sweep raised incidents", "incidents_created", created)
			}
		}
	}
}
