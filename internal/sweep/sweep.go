package sweep

import (
	"context"
	"log"
	"time"

	"studyroom-backend/config"
)

// Transitioner is the subset of the reservation service the sweep drives.
// Both operations are idempotent, so overlapping schedulers (this ticker
// plus an external cron hitting the admin endpoint) are harmless.
type Transitioner interface {
	MarkNoShows(ctx context.Context, now time.Time) (int, error)
	CompleteElapsed(ctx context.Context, now time.Time) (int, error)
}

// Service periodically advances elapsed reservations: RESERVED past their
// end become NO_SHOW, entered ones become COMPLETED.
type Service struct {
	cfg *config.SweepConfig
	svc Transitioner
}

// NewService creates the sweep service.
func NewService(cfg *config.SweepConfig, svc Transitioner) *Service {
	return &Service{cfg: cfg, svc: svc}
}

// Run starts the sweep loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Sweep is disabled. Not starting.")
		return
	}
	log.Println("Starting sweep service...")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweep service shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce performs a single sweep cycle.
func (s *Service) SweepOnce(ctx context.Context) {
	now := time.Now()

	noShows, err := s.svc.MarkNoShows(ctx, now)
	if err != nil {
		log.Printf("no-show sweep failed: %v", err)
	} else if noShows > 0 {
		log.Printf("sweep: %d reservations marked NO_SHOW", noShows)
	}

	completed, err := s.svc.CompleteElapsed(ctx, now)
	if err != nil {
		log.Printf("completion sweep failed: %v", err)
	} else if completed > 0 {
		log.Printf("sweep: %d reservations completed", completed)
	}
}
