package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/intranet-sync/internal/jobs"
)

// DefaultRetention is how many sync jobs a Store keeps before it starts
// dropping the oldest finished ones.
const DefaultRetention = 500

// Store is an in-memory JobStore for sync jobs, safe for concurrent use.
// Jobs are lost on restart; the sync status row is the durable record.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*jobs.SyncJob
	byRun     map[string]string
	retention int
}

// NewStore creates a store that keeps DefaultRetention jobs.
func NewStore() *Store {
	return NewStoreWithRetention(DefaultRetention)
}

// NewStoreWithRetention creates a store that keeps at most retention
// finished jobs. Pending and running jobs are never dropped.
func NewStoreWithRetention(retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		jobs:      make(map[string]*jobs.SyncJob),
		byRun:     make(map[string]string),
		retention: retention,
	}
}

// SaveJob implements jobs.JobStore. Saving a job that now carries a run id
// makes it reachable through FindJobByRunID.
func (s *Store) SaveJob(ctx context.Context, job *jobs.SyncJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.jobs[job.JobID]; ok && prev.RunID != "" && prev.RunID != job.RunID {
		delete(s.byRun, prev.RunID)
	}

	cp := *job
	s.jobs[job.JobID] = &cp
	if cp.RunID != "" {
		s.byRun[cp.RunID] = cp.JobID
	}

	s.evict()
	return nil
}

// GetJob implements jobs.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: %s: %w", jobID, jobs.ErrJobNotFound)
	}
	cp := *job
	return &cp, nil
}

// FindJobByRunID implements jobs.JobStore.
func (s *Store) FindJobByRunID(ctx context.Context, runID string) (*jobs.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[s.byRun[runID]]
	if runID == "" || !ok {
		return nil, fmt.Errorf("FindJobByRunID: %s: %w", runID, jobs.ErrJobNotFound)
	}
	cp := *job
	return &cp, nil
}

// ListJobs implements jobs.JobStore.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.SyncJob{}
	for _, job := range s.jobs {
		if filter.Trigger != "" && job.Trigger != filter.Trigger {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.ContinuationOf != "" && job.ContinuationOf != filter.ContinuationOf {
			continue
		}
		cp := *job
		result = append(result, &cp)
	}
	sortNewestFirst(result)

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.SyncJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpdateJobStatus implements jobs.JobStore.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("UpdateJobStatus: %s: %w", jobID, jobs.ErrJobNotFound)
	}
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}

	s.evict()
	return nil
}

// evict drops the oldest finished jobs above the retention limit.
// Callers hold the write lock.
func (s *Store) evict() {
	excess := len(s.jobs) - s.retention
	if excess <= 0 {
		return
	}

	var finished []*jobs.SyncJob
	for _, job := range s.jobs {
		if job.Status == jobs.JobStatusCompleted || job.Status == jobs.JobStatusFailed {
			finished = append(finished, job)
		}
	}
	sortNewestFirst(finished)

	for i := len(finished) - 1; i >= 0 && excess > 0; i-- {
		job := finished[i]
		delete(s.jobs, job.JobID)
		if job.RunID != "" && s.byRun[job.RunID] == job.JobID {
			delete(s.byRun, job.RunID)
		}
		excess--
	}
}

func sortNewestFirst(list []*jobs.SyncJob) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].JobID < list[j].JobID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

var _ jobs.JobStore = (*Store)(nil)
