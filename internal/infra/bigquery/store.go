// Package bigquery is the BigQuery backend of store.Store.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/intranet-sync/internal/store"
)

// Table names inside the configured dataset.
const (
	entriesTable       = "financial_entries"
	categoriesTable    = "categories"
	accountsTable      = "accounts"
	syncStatusTable    = "sync_status"
	syncSnapshotsTable = "sync_snapshots"
	auditLogsTable     = "audit_logs"
	webhookEventsTable = "webhook_events"
	messagesTable      = "messages"
	conversationsTable = "conversations"
)

// Store implements store.Store on BigQuery. It holds a shared client to
// avoid creating a new connection for each operation.
//
// BigQuery has no unique constraints. Uniqueness of external ids and
// gateway message ids is enforced with MERGE statements whose affected row
// count tells whether the insert happened.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// New creates a Store with its own client.
func New(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: creating client: %w", err)
	}
	return NewWithClient(client, projectID, datasetID), nil
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *bigquery.Client, projectID, datasetID string) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// table returns the fully qualified, quoted table name.
func (s *Store) table(name string) string {
	return qualify(s.projectID, s.datasetID, name)
}

func qualify(projectID, datasetID, name string) string {
	return fmt.Sprintf("`%s.%s.%s`", projectID, datasetID, name)
}

// exec runs a DML or DDL statement, waits for it and returns the number of
// rows it affected.
func (s *Store) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	return affectedRows(status), nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
