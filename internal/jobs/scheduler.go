package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/intranet-sync/internal/logger"
)

// Scheduler publishes a sync job on a fixed interval.
type Scheduler struct {
	publisher Publisher
	interval  time.Duration
	months    int
}

// NewScheduler creates a scheduler publishing a job for months every interval.
func NewScheduler(publisher Publisher, interval time.Duration, months int) *Scheduler {
	return &Scheduler{publisher: publisher, interval: interval, months: months}
}

// Run publishes one job immediately and then one per tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("Run: schedule interval must be positive, got %s", s.interval)
	}
	log := logger.FromContext(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		job := &SyncJob{Months: s.months, Trigger: TriggerSchedule, RequestedBy: "scheduler"}
		if err := s.publisher.PublishSync(ctx, job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Failed to publish scheduled sync")
		} else {
			log.Info().Str("job_id", job.JobID).Msg("Scheduled sync published")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
