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

// ListActiveCategories returns active categories ordered by name.
func (s *Store) ListActiveCategories(ctx context.Context) ([]domain.Category, error) {
	var rows []struct {
		ID     string `db:"id"`
		Name   string `db:"name"`
		Kind   string `db:"kind"`
		Active bool   `db:"is_active"`
	}
	query := `SELECT id, name, kind, is_active FROM categories WHERE is_active ORDER BY LOWER(name)`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("ListActiveCategories: %w", err)
	}

	out := make([]domain.Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Category{ID: r.ID, Name: r.Name, Kind: domain.EntryKind(r.Kind), Active: r.Active})
	}
	return out, nil
}

// ListActiveAccounts returns active accounts, oldest first.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	var rows []struct {
		ID        string    `db:"id"`
		Name      string    `db:"name"`
		Active    bool      `db:"is_active"`
		CreatedAt time.Time `db:"created_at"`
	}
	query := `SELECT id, name, is_active, created_at FROM accounts WHERE is_active ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("ListActiveAccounts: %w", err)
	}

	out := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Account{ID: r.ID, Name: r.Name, Active: r.Active, CreatedAt: r.CreatedAt.UTC()})
	}
	return out, nil
}

// FindEntryByExternalID returns nil, nil when no entry matches.
func (s *Store) FindEntryByExternalID(ctx context.Context, externalID string) (*domain.Entry, error) {
	var row entryRow
	query := `SELECT ` + entryColumns + ` FROM financial_entries WHERE external_id = $1`
	if err := s.db.GetContext(ctx, &row, query, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("FindEntryByExternalID: %w", err)
	}
	return row.toDomain(), nil
}

// InsertEntry inserts entry, mapping the unique index violation on
// external_id to store.ErrDuplicateExternalID.
func (s *Store) InsertEntry(ctx context.Context, entry *domain.Entry) error {
	if entry.ExternalID == "" {
		return fmt.Errorf("InsertEntry: external id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `INSERT INTO financial_entries (` + entryColumns + `) VALUES (
		:id, :external_id, :source, :kind, :amount, :category_id, :account_id,
		:scheduled_date, :due_date, :paid_date, :status, :notes,
		:created_at, :updated_at, :created_by, :updated_by)`
	if _, err := s.db.NamedExecContext(ctx, query, entryRowFromDomain(entry)); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateExternalID
		}
		return fmt.Errorf("InsertEntry: %w", err)
	}
	return nil
}

// UpdateEntryByExternalID overwrites the mutable columns and copies the
// stored identity back into entry.
func (s *Store) UpdateEntryByExternalID(ctx context.Context, entry *domain.Entry) error {
	query, args, err := s.db.BindNamed(`
		UPDATE financial_entries
		SET source = :source,
		    kind = :kind,
		    amount = :amount,
		    category_id = :category_id,
		    account_id = :account_id,
		    scheduled_date = :scheduled_date,
		    due_date = :due_date,
		    paid_date = :paid_date,
		    status = :status,
		    notes = :notes,
		    updated_at = :updated_at,
		    updated_by = :updated_by
		WHERE external_id = :external_id
		RETURNING id, created_at, created_by
	`, entryRowFromDomain(entry))
	if err != nil {
		return fmt.Errorf("UpdateEntryByExternalID: binding: %w", err)
	}

	var (
		id        string
		createdAt time.Time
		createdBy string
	)
	err = s.db.QueryRowxContext(ctx, query, args...).Scan(&id, &createdAt, &createdBy)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("UpdateEntryByExternalID: %w", err)
	}

	entry.ID = id
	entry.CreatedAt = createdAt.UTC()
	entry.CreatedBy = createdBy
	return nil
}
