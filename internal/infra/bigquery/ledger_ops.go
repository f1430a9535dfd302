package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

const entryColumns = `
	entry_id, external_id, source, kind, amount,
	category_id, account_id,
	scheduled_date, due_date, paid_date,
	status, notes,
	created_ts, updated_ts, created_by, updated_by`

// ListActiveCategories returns active categories ordered by name.
func (s *Store) ListActiveCategories(ctx context.Context) ([]domain.Category, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT category_id, name, kind, is_active
		FROM %s
		WHERE is_active = TRUE
		ORDER BY LOWER(name)
	`, s.table(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveCategories: query read: %w", err)
	}

	var out []domain.Category
	for {
		var r CategoryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveCategories: iter next: %w", err)
		}
		out = append(out, domain.Category{
			ID:     r.CategoryID,
			Name:   r.Name,
			Kind:   domain.EntryKind(r.Kind),
			Active: r.IsActive.Valid && r.IsActive.Bool,
		})
	}

	return out, nil
}

// ListActiveAccounts returns active accounts, oldest first.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT account_id, account_name, is_active, created_ts
		FROM %s
		WHERE is_active = TRUE
		ORDER BY created_ts ASC
	`, s.table(accountsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveAccounts: query read: %w", err)
	}

	var out []domain.Account
	for {
		var r AccountRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveAccounts: iter next: %w", err)
		}
		out = append(out, domain.Account{
			ID:        r.AccountID,
			Name:      r.AccountName,
			Active:    r.IsActive.Valid && r.IsActive.Bool,
			CreatedAt: r.CreatedTS,
		})
	}

	return out, nil
}

// FindEntryByExternalID returns nil when no entry carries externalID.
func (s *Store) FindEntryByExternalID(ctx context.Context, externalID string) (*domain.Entry, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE external_id = @external_id
		ORDER BY created_ts ASC
		LIMIT 1
	`, entryColumns, s.table(entriesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "external_id", Value: externalID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindEntryByExternalID: query read: %w", err)
	}

	var row EntryRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindEntryByExternalID: iter next: %w", err)
	}

	return row.toDomain()
}

// InsertEntry inserts entry unless its external id is already present.
func (s *Store) InsertEntry(ctx context.Context, entry *domain.Entry) error {
	if entry.ExternalID == "" {
		return fmt.Errorf("InsertEntry: external id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	row := entryRowFromDomain(entry)

	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @external_id AS external_id) S
		ON T.external_id = S.external_id
		WHEN NOT MATCHED THEN
		  INSERT (%s)
		  VALUES (
			@entry_id, @external_id, @source, @kind, @amount,
			@category_id, @account_id,
			@scheduled_date, @due_date, @paid_date,
			@status, @notes,
			@created_ts, @updated_ts, @created_by, @updated_by
		  )
	`, s.table(entriesTable), entryColumns)

	affected, err := s.exec(ctx, sql, entryParams(row))
	if err != nil {
		return fmt.Errorf("InsertEntry: %w", err)
	}
	if affected == 0 {
		return store.ErrDuplicateExternalID
	}
	return nil
}

// UpdateEntryByExternalID overwrites the mutable columns of the entry with
// the same external id and copies the stored identity back into entry.
func (s *Store) UpdateEntryByExternalID(ctx context.Context, entry *domain.Entry) error {
	existing, err := s.FindEntryByExternalID(ctx, entry.ExternalID)
	if err != nil {
		return fmt.Errorf("UpdateEntryByExternalID: %w", err)
	}
	if existing == nil {
		return store.ErrNotFound
	}
	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	entry.CreatedBy = existing.CreatedBy

	sql := fmt.Sprintf(`
		UPDATE %s
		SET source = @source,
		    kind = @kind,
		    amount = @amount,
		    category_id = @category_id,
		    account_id = @account_id,
		    scheduled_date = @scheduled_date,
		    due_date = @due_date,
		    paid_date = @paid_date,
		    status = @status,
		    notes = @notes,
		    updated_ts = @updated_ts,
		    updated_by = @updated_by
		WHERE external_id = @external_id
	`, s.table(entriesTable))

	affected, err := s.exec(ctx, sql, entryParams(entryRowFromDomain(entry)))
	if err != nil {
		return fmt.Errorf("UpdateEntryByExternalID: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func entryParams(r *EntryRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "entry_id", Value: r.EntryID},
		{Name: "external_id", Value: r.ExternalID},
		{Name: "source", Value: r.Source},
		{Name: "kind", Value: r.Kind},
		{Name: "amount", Value: r.Amount},
		{Name: "category_id", Value: r.CategoryID},
		{Name: "account_id", Value: r.AccountID},
		{Name: "scheduled_date", Value: r.ScheduledDate},
		{Name: "due_date", Value: r.DueDate},
		{Name: "paid_date", Value: r.PaidDate},
		{Name: "status", Value: r.Status},
		{Name: "notes", Value: r.Notes},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "updated_ts", Value: r.UpdatedTS},
		{Name: "created_by", Value: r.CreatedBy},
		{Name: "updated_by", Value: r.UpdatedBy},
	}
}
