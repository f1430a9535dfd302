package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// SyncType identifies a sync status row.
type SyncType string

const (
	SyncTypeFinancial SyncType = "financial"
)

// SyncState is the lifecycle state of a sync status row.
type SyncState string

const (
	SyncIdle      SyncState = "idle"
	SyncRunning   SyncState = "running"
	SyncCompleted SyncState = "completed"
	SyncError     SyncState = "error"
)

// SyncStatus is the progress record for one sync type. It is rewritten
// after every page so a poller can render live counters.
type SyncStatus struct {
	SyncType SyncType  `json:"syncType"`
	Status   SyncState `json:"status"`
	RunID    string    `json:"runId"`

	LastOffset     int `json:"lastOffset"`
	TotalProcessed int `json:"totalProcessed"`
	TotalCreated   int `json:"totalCreated"`
	TotalUpdated   int `json:"totalUpdated"`
	TotalSkipped   int `json:"totalSkipped"`
	ErrorCount     int `json:"errorCount"`

	Months      int        `json:"months"`
	ForceUpdate bool       `json:"forceUpdate"`
	WindowStart civil.Date `json:"windowStart"`
	WindowEnd   civil.Date `json:"windowEnd"`

	// Partial is set when the last run stopped before the upstream was
	// exhausted; LastOffset then points at the first page not yet applied.
	Partial   bool   `json:"partial"`
	LastError string `json:"lastError,omitempty"`
	StartedBy string `json:"startedBy,omitempty"`

	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Resumable reports whether a new run with the given parameters can pick
// up where this one stopped.
func (s *SyncStatus) Resumable(months int, force bool) bool {
	if s == nil || !s.Partial || s.LastOffset <= 0 {
		return false
	}
	if s.Status == SyncRunning || s.Status == SyncCompleted {
		return false
	}
	return s.Months == months && s.ForceUpdate == force
}

// Stale reports whether a running row has not been touched within lease.
func (s *SyncStatus) Stale(now time.Time, lease time.Duration) bool {
	return s.Status == SyncRunning && now.Sub(s.UpdatedAt) > lease
}

// SyncSnapshot records what happened to one fetched page.
type SyncSnapshot struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	SyncType  SyncType  `json:"syncType"`
	Offset    int       `json:"offset"`
	Fetched   int       `json:"fetched"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	CreatedAt time.Time `json:"createdAt"`
}
