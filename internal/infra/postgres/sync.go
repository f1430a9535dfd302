package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/google/uuid"
)

const statusValues = `:sync_type, :status, :run_id, :last_offset,
	:total_processed, :total_created, :total_updated, :total_skipped, :error_count,
	:months, :force_update, :window_start, :window_end, :partial, :last_error,
	:started_by, :started_at, :finished_at, :updated_at`

const statusUpdate = `status = EXCLUDED.status,
	run_id = EXCLUDED.run_id,
	last_offset = EXCLUDED.last_offset,
	total_processed = EXCLUDED.total_processed,
	total_created = EXCLUDED.total_created,
	total_updated = EXCLUDED.total_updated,
	total_skipped = EXCLUDED.total_skipped,
	error_count = EXCLUDED.error_count,
	months = EXCLUDED.months,
	force_update = EXCLUDED.force_update,
	window_start = EXCLUDED.window_start,
	window_end = EXCLUDED.window_end,
	partial = EXCLUDED.partial,
	last_error = EXCLUDED.last_error,
	started_by = EXCLUDED.started_by,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	updated_at = EXCLUDED.updated_at`

// GetSyncStatus returns nil, nil when the sync type has never run.
func (s *Store) GetSyncStatus(ctx context.Context, syncType domain.SyncType) (*domain.SyncStatus, error) {
	var row statusRow
	query := `SELECT ` + statusColumns + ` FROM sync_status WHERE sync_type = $1`
	if err := s.db.GetContext(ctx, &row, query, string(syncType)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetSyncStatus: %w", err)
	}
	return row.toDomain(), nil
}

// AcquireSyncStatus upserts status only while the stored row is not running
// or has not been touched within lease. The conditional DO UPDATE affects
// no row when another run holds the lease.
func (s *Store) AcquireSyncStatus(ctx context.Context, status *domain.SyncStatus, lease time.Duration) error {
	row := statusRowFromDomain(status)
	row.StaleBefore = status.UpdatedAt.Add(-lease)

	query := `INSERT INTO sync_status (` + statusColumns + `) VALUES (` + statusValues + `)
		ON CONFLICT (sync_type) DO UPDATE SET ` + statusUpdate + `
		WHERE sync_status.status <> 'running' OR sync_status.updated_at < :stale_before`

	res, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("AcquireSyncStatus: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("AcquireSyncStatus: rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrSyncInProgress
	}
	return nil
}

// SaveSyncStatus replaces the row for status.SyncType.
func (s *Store) SaveSyncStatus(ctx context.Context, status *domain.SyncStatus) error {
	query := `INSERT INTO sync_status (` + statusColumns + `) VALUES (` + statusValues + `)
		ON CONFLICT (sync_type) DO UPDATE SET ` + statusUpdate

	if _, err := s.db.NamedExecContext(ctx, query, statusRowFromDomain(status)); err != nil {
		return fmt.Errorf("SaveSyncStatus: %w", err)
	}
	return nil
}

// InsertSyncSnapshot appends a per-page snapshot.
func (s *Store) InsertSyncSnapshot(ctx context.Context, snap *domain.SyncSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_snapshots (id, run_id, sync_type, page_offset, fetched, created, updated, skipped, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, snap.ID, snap.RunID, string(snap.SyncType), snap.Offset,
		snap.Fetched, snap.Created, snap.Updated, snap.Skipped, snap.Errors, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertSyncSnapshot: %w", err)
	}
	return nil
}

// InsertAuditLog appends an audit row.
func (s *Store) InsertAuditLog(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, entity, user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.Action, entry.Entity, entry.UserID, jsonb(entry.Details), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertAuditLog: %w", err)
	}
	return nil
}
