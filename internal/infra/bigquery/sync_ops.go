package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

const statusColumns = `
	sync_type, status, run_id,
	last_offset, total_processed, total_created, total_updated, total_skipped, error_count,
	months, force_update, window_start, window_end,
	partial, last_error, started_by,
	started_ts, finished_ts, updated_ts`

const statusValues = `
	@sync_type, @status, @run_id,
	@last_offset, @total_processed, @total_created, @total_updated, @total_skipped, @error_count,
	@months, @force_update, @window_start, @window_end,
	@partial, @last_error, @started_by,
	@started_ts, @finished_ts, @updated_ts`

const statusAssignments = `
	status = @status,
	run_id = @run_id,
	last_offset = @last_offset,
	total_processed = @total_processed,
	total_created = @total_created,
	total_updated = @total_updated,
	total_skipped = @total_skipped,
	error_count = @error_count,
	months = @months,
	force_update = @force_update,
	window_start = @window_start,
	window_end = @window_end,
	partial = @partial,
	last_error = @last_error,
	started_by = @started_by,
	started_ts = @started_ts,
	finished_ts = @finished_ts,
	updated_ts = @updated_ts`

// GetSyncStatus returns nil when syncType has never run.
func (s *Store) GetSyncStatus(ctx context.Context, syncType domain.SyncType) (*domain.SyncStatus, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE sync_type = @sync_type
		LIMIT 1
	`, statusColumns, s.table(syncStatusTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "sync_type", Value: string(syncType)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetSyncStatus: query read: %w", err)
	}

	var row SyncStatusRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetSyncStatus: iter next: %w", err)
	}

	return row.toDomain(), nil
}

// AcquireSyncStatus writes status only when no fresh running row exists.
// The check and the write happen in one MERGE so two callers cannot both
// win.
func (s *Store) AcquireSyncStatus(ctx context.Context, status *domain.SyncStatus, lease time.Duration) error {
	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @sync_type AS sync_type) S
		ON T.sync_type = S.sync_type
		WHEN MATCHED AND (T.status != 'running' OR T.updated_ts < @stale_before) THEN
		  UPDATE SET %s
		WHEN NOT MATCHED THEN
		  INSERT (%s) VALUES (%s)
	`, s.table(syncStatusTable), statusAssignments, statusColumns, statusValues)

	params := append(statusParams(status), bigquery.QueryParameter{
		Name: "stale_before", Value: status.UpdatedAt.Add(-lease),
	})

	affected, err := s.exec(ctx, sql, params)
	if err != nil {
		return fmt.Errorf("AcquireSyncStatus: %w", err)
	}
	if affected == 0 {
		return store.ErrSyncInProgress
	}
	return nil
}

// SaveSyncStatus upserts the row for status.SyncType.
func (s *Store) SaveSyncStatus(ctx context.Context, status *domain.SyncStatus) error {
	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @sync_type AS sync_type) S
		ON T.sync_type = S.sync_type
		WHEN MATCHED THEN
		  UPDATE SET %s
		WHEN NOT MATCHED THEN
		  INSERT (%s) VALUES (%s)
	`, s.table(syncStatusTable), statusAssignments, statusColumns, statusValues)

	if _, err := s.exec(ctx, sql, statusParams(status)); err != nil {
		return fmt.Errorf("SaveSyncStatus: %w", err)
	}
	return nil
}

// InsertSyncSnapshot streams one snapshot row.
func (s *Store) InsertSyncSnapshot(ctx context.Context, snap *domain.SyncSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	row := &SnapshotRow{
		SnapshotID: snap.ID,
		RunID:      snap.RunID,
		SyncType:   string(snap.SyncType),
		PageOffset: int64(snap.Offset),
		Fetched:    int64(snap.Fetched),
		Created:    int64(snap.Created),
		Updated:    int64(snap.Updated),
		Skipped:    int64(snap.Skipped),
		Errors:     int64(snap.Errors),
		CreatedTS:  snap.CreatedAt,
	}

	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(syncSnapshotsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertSyncSnapshot: inserting row: %w", err)
	}
	return nil
}

// InsertAuditLog streams one audit row.
func (s *Store) InsertAuditLog(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	row := &AuditRow{
		AuditID:   entry.ID,
		Action:    entry.Action,
		Entity:    entry.Entity,
		UserID:    bigquery.NullString{StringVal: entry.UserID, Valid: entry.UserID != ""},
		Details:   nullJSON(entry.Details),
		CreatedTS: entry.CreatedAt,
	}

	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(auditLogsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertAuditLog: inserting row: %w", err)
	}
	return nil
}
