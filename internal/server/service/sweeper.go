package service

import (
	"context"
	"log/slog"
	"time"
)

type expiredPurger interface {
	PurgeExpired(ctx context.Context) (PurgeReport, error)
}

// Sweeper periodically purges expired shares. Lazy expiry on access keeps
// reads correct without it; the sweeper only reclaims disk for links nobody
// opens again.
type Sweeper struct {
	purger   expiredPurger
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(purger expiredPurger, interval time.Duration) *Sweeper {
	return &Sweeper{
		purger:   purger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("expiry sweeper started", "interval", s.interval)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.run(ctx)

		for {
			select {
			case <-ticker.C:
				s.run(ctx)
			case <-ctx.Done():
				slog.Info("expiry sweeper stopping")
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	report, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		slog.Error("failed to list expired shares", "error", err)
		return
	}
	if report.Expired == 0 {
		slog.Debug("no expired shares to purge")
		return
	}

	slog.Info("sweep complete",
		"purged", report.Purged,
		"failed", report.Failed,
		"total_expired", report.Expired,
	)
}
