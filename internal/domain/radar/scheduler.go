package radar

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs ScanAndBrief on a fixed interval. A zero interval
// disables the loop; manual scans stay available either way.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewScheduler(svc *Service, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "radar_scheduler").Logger(),
	}
}

// Start blocks until ctx is cancelled. Started from serve alongside the
// other background loops.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("scheduled radar scans disabled")
		return
	}
	s.logger.Info().Dur("interval", s.interval).Msg("scheduled radar scans enabled")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	result, err := s.svc.ScanAndBrief(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled radar scan failed")
		return
	}
	s.logger.Info().
		Int("new_alerts", len(result.NewAlerts)).
		Int("warnings", len(result.Warnings)).
		Str("podcast_url", result.PodcastURL).
		Msg("scheduled radar scan complete")
}
