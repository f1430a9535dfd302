package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/intranet-sync/internal/advboxsync"
	"github.com/dvloznov/intranet-sync/internal/auth"
	"github.com/dvloznov/intranet-sync/internal/logger"
)

// DefaultMaxContinues bounds how many continuation jobs one request chains.
const DefaultMaxContinues = 20

// SyncRunner is the part of advboxsync.Syncer the worker drives.
type SyncRunner interface {
	Run(ctx context.Context, p advboxsync.Params) (*advboxsync.Summary, error)
}

// SyncWorker executes sync jobs. A partial run that was not cancelled is
// continued by publishing a follow-up job, up to maxContinues in a row.
type SyncWorker struct {
	runner       SyncRunner
	publisher    Publisher
	maxContinues int
}

// NewSyncWorker creates a worker. A nil publisher disables continuations.
func NewSyncWorker(runner SyncRunner, publisher Publisher, maxContinues int) *SyncWorker {
	if maxContinues < 0 {
		maxContinues = 0
	}
	return &SyncWorker{runner: runner, publisher: publisher, maxContinues: maxContinues}
}

// Handle implements JobHandler.
func (w *SyncWorker) Handle(ctx context.Context, job Job) error {
	syncJob, ok := job.(*SyncJob)
	if !ok {
		return Permanent(fmt.Errorf("unexpected job type: %T", job))
	}

	log := logger.FromContext(ctx).With().
		Str("job_id", syncJob.JobID).
		Str("trigger", string(syncJob.Trigger)).
		Logger()

	summary, err := w.runner.Run(ctx, advboxsync.Params{
		Months:      syncJob.Months,
		ForceUpdate: syncJob.ForceUpdate,
		Actor:       jobActor(syncJob),
	})
	if summary != nil {
		syncJob.RunID = summary.RunID
		syncJob.Partial = summary.Partial
		syncJob.Message = summary.Message
	}
	if err != nil {
		log.Error().Err(err).Msg("Sync job failed")
		if retryable(err) {
			return err
		}
		return Permanent(err)
	}

	log.Info().
		Str("run_id", summary.RunID).
		Bool("partial", summary.Partial).
		Msg(summary.Message)

	if !summary.Partial || summary.Cancelled || w.publisher == nil {
		return nil
	}
	if syncJob.Continuations >= w.maxContinues {
		log.Warn().Int("continuations", syncJob.Continuations).Msg("Continuation limit reached; waiting for the next schedule")
		return nil
	}

	next := &SyncJob{
		Months:         syncJob.Months,
		ForceUpdate:    syncJob.ForceUpdate,
		Trigger:        TriggerContinuation,
		ContinuationOf: syncJob.JobID,
		Continuations:  syncJob.Continuations + 1,
		RequestedBy:    syncJob.RequestedBy,
	}
	if err := w.publisher.PublishSync(ctx, next); err != nil {
		// The run itself succeeded; the next schedule resumes from the saved offset.
		log.Error().Err(err).Msg("Failed to enqueue continuation")
		return nil
	}
	log.Info().Str("next_job_id", next.JobID).Msg("Continuation enqueued")
	return nil
}

// jobActor runs a queued job on behalf of its requester. The permission
// check already happened when the job was enqueued.
func jobActor(job *SyncJob) *auth.Identity {
	id := auth.System()
	if job.RequestedBy != "" {
		id.UserID = job.RequestedBy
	}
	return id
}

// retryable reports whether a later attempt could succeed. Credential and
// permission failures need an operator first.
func retryable(err error) bool {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrForbidden),
		errors.Is(err, advboxsync.ErrMissingCredential),
		errors.Is(err, advboxsync.ErrUpstreamUnauthorized):
		return false
	}
	return true
}
