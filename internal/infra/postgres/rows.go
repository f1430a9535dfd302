package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/shopspring/decimal"
)

type entryRow struct {
	ID            string          `db:"id"`
	ExternalID    string          `db:"external_id"`
	Source        string          `db:"source"`
	Kind          string          `db:"kind"`
	Amount        decimal.Decimal `db:"amount"`
	CategoryID    sql.NullString  `db:"category_id"`
	AccountID     sql.NullString  `db:"account_id"`
	ScheduledDate time.Time       `db:"scheduled_date"`
	DueDate       sql.NullTime    `db:"due_date"`
	PaidDate      sql.NullTime    `db:"paid_date"`
	Status        string          `db:"status"`
	Notes         string          `db:"notes"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	CreatedBy     string          `db:"created_by"`
	UpdatedBy     string          `db:"updated_by"`
}

const entryColumns = `id, external_id, source, kind, amount, category_id, account_id,
	scheduled_date, due_date, paid_date, status, notes,
	created_at, updated_at, created_by, updated_by`

func entryRowFromDomain(e *domain.Entry) *entryRow {
	return &entryRow{
		ID:            e.ID,
		ExternalID:    e.ExternalID,
		Source:        e.Source,
		Kind:          string(e.Kind),
		Amount:        e.Amount,
		CategoryID:    nullString(e.CategoryID),
		AccountID:     nullString(e.AccountID),
		ScheduledDate: e.ScheduledDate.In(time.UTC),
		DueDate:       nullDate(e.DueDate),
		PaidDate:      nullDate(e.PaidDate),
		Status:        string(e.Status),
		Notes:         e.Notes,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
		CreatedBy:     e.CreatedBy,
		UpdatedBy:     e.UpdatedBy,
	}
}

func (r *entryRow) toDomain() *domain.Entry {
	return &domain.Entry{
		ID:            r.ID,
		ExternalID:    r.ExternalID,
		Source:        r.Source,
		Kind:          domain.EntryKind(r.Kind),
		Amount:        r.Amount,
		CategoryID:    stringPtr(r.CategoryID),
		AccountID:     stringPtr(r.AccountID),
		ScheduledDate: civil.DateOf(r.ScheduledDate),
		DueDate:       datePtr(r.DueDate),
		PaidDate:      datePtr(r.PaidDate),
		Status:        domain.EntryStatus(r.Status),
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		CreatedBy:     r.CreatedBy,
		UpdatedBy:     r.UpdatedBy,
	}
}

type statusRow struct {
	SyncType       string       `db:"sync_type"`
	Status         string       `db:"status"`
	RunID          string       `db:"run_id"`
	LastOffset     int          `db:"last_offset"`
	TotalProcessed int          `db:"total_processed"`
	TotalCreated   int          `db:"total_created"`
	TotalUpdated   int          `db:"total_updated"`
	TotalSkipped   int          `db:"total_skipped"`
	ErrorCount     int          `db:"error_count"`
	Months         int          `db:"months"`
	ForceUpdate    bool         `db:"force_update"`
	WindowStart    sql.NullTime `db:"window_start"`
	WindowEnd      sql.NullTime `db:"window_end"`
	Partial        bool         `db:"partial"`
	LastError      string       `db:"last_error"`
	StartedBy      string       `db:"started_by"`
	StartedAt      sql.NullTime `db:"started_at"`
	FinishedAt     sql.NullTime `db:"finished_at"`
	UpdatedAt      time.Time    `db:"updated_at"`

	// StaleBefore only feeds the lease condition of AcquireSyncStatus.
	StaleBefore time.Time `db:"stale_before"`
}

const statusColumns = `sync_type, status, run_id, last_offset,
	total_processed, total_created, total_updated, total_skipped, error_count,
	months, force_update, window_start, window_end, partial, last_error,
	started_by, started_at, finished_at, updated_at`

func statusRowFromDomain(s *domain.SyncStatus) *statusRow {
	var window [2]sql.NullTime
	for i, d := range []civil.Date{s.WindowStart, s.WindowEnd} {
		window[i] = nullDate(domain.DatePtr(d))
	}
	return &statusRow{
		SyncType:       string(s.SyncType),
		Status:         string(s.Status),
		RunID:          s.RunID,
		LastOffset:     s.LastOffset,
		TotalProcessed: s.TotalProcessed,
		TotalCreated:   s.TotalCreated,
		TotalUpdated:   s.TotalUpdated,
		TotalSkipped:   s.TotalSkipped,
		ErrorCount:     s.ErrorCount,
		Months:         s.Months,
		ForceUpdate:    s.ForceUpdate,
		WindowStart:    window[0],
		WindowEnd:      window[1],
		Partial:        s.Partial,
		LastError:      s.LastError,
		StartedBy:      s.StartedBy,
		StartedAt:      nullTime(s.StartedAt),
		FinishedAt:     nullTime(s.FinishedAt),
		UpdatedAt:      s.UpdatedAt,
	}
}

func (r *statusRow) toDomain() *domain.SyncStatus {
	st := &domain.SyncStatus{
		SyncType:       domain.SyncType(r.SyncType),
		Status:         domain.SyncState(r.Status),
		RunID:          r.RunID,
		LastOffset:     r.LastOffset,
		TotalProcessed: r.TotalProcessed,
		TotalCreated:   r.TotalCreated,
		TotalUpdated:   r.TotalUpdated,
		TotalSkipped:   r.TotalSkipped,
		ErrorCount:     r.ErrorCount,
		Months:         r.Months,
		ForceUpdate:    r.ForceUpdate,
		Partial:        r.Partial,
		LastError:      r.LastError,
		StartedBy:      r.StartedBy,
		StartedAt:      timePtr(r.StartedAt),
		FinishedAt:     timePtr(r.FinishedAt),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.WindowStart.Valid {
		st.WindowStart = civil.DateOf(r.WindowStart.Time)
	}
	if r.WindowEnd.Valid {
		st.WindowEnd = civil.DateOf(r.WindowEnd.Time)
	}
	return st
}

type messageRow struct {
	ID               string    `db:"id"`
	GatewayMessageID string    `db:"gateway_message_id"`
	Phone            string    `db:"phone"`
	Direction        string    `db:"direction"`
	MessageType      string    `db:"message_type"`
	Body             string    `db:"body"`
	MediaURL         string    `db:"media_url"`
	SenderName       string    `db:"sender_name"`
	Status           string    `db:"status"`
	SentAt           time.Time `db:"sent_at"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r *messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:               r.ID,
		GatewayMessageID: r.GatewayMessageID,
		Phone:            r.Phone,
		Direction:        domain.Direction(r.Direction),
		Type:             r.MessageType,
		Body:             r.Body,
		MediaURL:         r.MediaURL,
		SenderName:       r.SenderName,
		Status:           r.Status,
		SentAt:           r.SentAt.UTC(),
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

type conversationRow struct {
	Phone         string    `db:"phone"`
	Name          string    `db:"name"`
	IsGroup       bool      `db:"is_group"`
	LastMessage   string    `db:"last_message"`
	LastMessageAt time.Time `db:"last_message_at"`
	UnreadCount   int       `db:"unread_count"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r *conversationRow) toDomain() *domain.Conversation {
	return &domain.Conversation{
		Phone:         r.Phone,
		Name:          r.Name,
		IsGroup:       r.IsGroup,
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageAt.UTC(),
		UnreadCount:   r.UnreadCount,
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullDate(d *civil.Date) sql.NullTime {
	if d == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: d.In(time.UTC), Valid: true}
}

func datePtr(t sql.NullTime) *civil.Date {
	if !t.Valid {
		return nil
	}
	d := civil.DateOf(t.Time)
	return &d
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// jsonb passes raw JSON as text; lib/pq would send []byte as bytea.
func jsonb(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
