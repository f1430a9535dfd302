package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/shopspring/decimal"
)

// EntryRow mirrors financial_entries.
type EntryRow struct {
	EntryID    string `bigquery:"entry_id"`    // REQUIRED
	ExternalID string `bigquery:"external_id"` // REQUIRED, unique by convention
	Source     string `bigquery:"source"`      // REQUIRED

	Kind   string   `bigquery:"kind"`   // REQUIRED income|expense
	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC

	CategoryID bigquery.NullString `bigquery:"category_id"` // NULLABLE
	AccountID  bigquery.NullString `bigquery:"account_id"`  // NULLABLE

	ScheduledDate civil.Date        `bigquery:"scheduled_date"` // REQUIRED
	DueDate       bigquery.NullDate `bigquery:"due_date"`       // NULLABLE
	PaidDate      bigquery.NullDate `bigquery:"paid_date"`      // NULLABLE

	Status string              `bigquery:"status"` // REQUIRED paid|pending
	Notes  bigquery.NullString `bigquery:"notes"`  // NULLABLE

	CreatedTS time.Time           `bigquery:"created_ts"`
	UpdatedTS time.Time           `bigquery:"updated_ts"`
	CreatedBy bigquery.NullString `bigquery:"created_by"`
	UpdatedBy bigquery.NullString `bigquery:"updated_by"`
}

func entryRowFromDomain(e *domain.Entry) *EntryRow {
	return &EntryRow{
		EntryID:       e.ID,
		ExternalID:    e.ExternalID,
		Source:        e.Source,
		Kind:          string(e.Kind),
		Amount:        e.Amount.Rat(),
		CategoryID:    nullString(e.CategoryID),
		AccountID:     nullString(e.AccountID),
		ScheduledDate: e.ScheduledDate,
		DueDate:       nullDate(e.DueDate),
		PaidDate:      nullDate(e.PaidDate),
		Status:        string(e.Status),
		Notes:         bigquery.NullString{StringVal: e.Notes, Valid: e.Notes != ""},
		CreatedTS:     e.CreatedAt,
		UpdatedTS:     e.UpdatedAt,
		CreatedBy:     bigquery.NullString{StringVal: e.CreatedBy, Valid: e.CreatedBy != ""},
		UpdatedBy:     bigquery.NullString{StringVal: e.UpdatedBy, Valid: e.UpdatedBy != ""},
	}
}

func (r *EntryRow) toDomain() (*domain.Entry, error) {
	amount := decimal.Zero
	if r.Amount != nil {
		d, err := decimal.NewFromString(r.Amount.FloatString(9))
		if err != nil {
			return nil, fmt.Errorf("EntryRow.toDomain: amount: %w", err)
		}
		amount = d
	}
	return &domain.Entry{
		ID:            r.EntryID,
		ExternalID:    r.ExternalID,
		Source:        r.Source,
		Kind:          domain.EntryKind(r.Kind),
		Amount:        amount,
		CategoryID:    stringPtr(r.CategoryID),
		AccountID:     stringPtr(r.AccountID),
		ScheduledDate: r.ScheduledDate,
		DueDate:       datePtr(r.DueDate),
		PaidDate:      datePtr(r.PaidDate),
		Status:        domain.EntryStatus(r.Status),
		Notes:         r.Notes.StringVal,
		CreatedAt:     r.CreatedTS,
		UpdatedAt:     r.UpdatedTS,
		CreatedBy:     r.CreatedBy.StringVal,
		UpdatedBy:     r.UpdatedBy.StringVal,
	}, nil
}

// CategoryRow mirrors categories.
type CategoryRow struct {
	CategoryID string            `bigquery:"category_id"`
	Name       string            `bigquery:"name"`
	Kind       string            `bigquery:"kind"`
	IsActive   bigquery.NullBool `bigquery:"is_active"`
}

// AccountRow mirrors accounts.
type AccountRow struct {
	AccountID   string            `bigquery:"account_id"`
	AccountName string            `bigquery:"account_name"`
	IsActive    bigquery.NullBool `bigquery:"is_active"`
	CreatedTS   time.Time         `bigquery:"created_ts"`
}

// SyncStatusRow mirrors sync_status; one row per sync_type.
type SyncStatusRow struct {
	SyncType string `bigquery:"sync_type"`
	Status   string `bigquery:"status"`
	RunID    string `bigquery:"run_id"`

	LastOffset     int64 `bigquery:"last_offset"`
	TotalProcessed int64 `bigquery:"total_processed"`
	TotalCreated   int64 `bigquery:"total_created"`
	TotalUpdated   int64 `bigquery:"total_updated"`
	TotalSkipped   int64 `bigquery:"total_skipped"`
	ErrorCount     int64 `bigquery:"error_count"`

	Months      int64             `bigquery:"months"`
	ForceUpdate bool              `bigquery:"force_update"`
	WindowStart bigquery.NullDate `bigquery:"window_start"`
	WindowEnd   bigquery.NullDate `bigquery:"window_end"`

	Partial   bool                `bigquery:"partial"`
	LastError bigquery.NullString `bigquery:"last_error"`
	StartedBy bigquery.NullString `bigquery:"started_by"`

	StartedTS  bigquery.NullTimestamp `bigquery:"started_ts"`
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"`
	UpdatedTS  time.Time              `bigquery:"updated_ts"`
}

func (r *SyncStatusRow) toDomain() *domain.SyncStatus {
	st := &domain.SyncStatus{
		SyncType:       domain.SyncType(r.SyncType),
		Status:         domain.SyncState(r.Status),
		RunID:          r.RunID,
		LastOffset:     int(r.LastOffset),
		TotalProcessed: int(r.TotalProcessed),
		TotalCreated:   int(r.TotalCreated),
		TotalUpdated:   int(r.TotalUpdated),
		TotalSkipped:   int(r.TotalSkipped),
		ErrorCount:     int(r.ErrorCount),
		Months:         int(r.Months),
		ForceUpdate:    r.ForceUpdate,
		WindowStart:    r.WindowStart.Date,
		WindowEnd:      r.WindowEnd.Date,
		Partial:        r.Partial,
		LastError:      r.LastError.StringVal,
		StartedBy:      r.StartedBy.StringVal,
		UpdatedAt:      r.UpdatedTS,
	}
	if r.StartedTS.Valid {
		t := r.StartedTS.Timestamp
		st.StartedAt = &t
	}
	if r.FinishedTS.Valid {
		t := r.FinishedTS.Timestamp
		st.FinishedAt = &t
	}
	return st
}

// statusParams binds every sync_status column as a named parameter.
func statusParams(s *domain.SyncStatus) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "sync_type", Value: string(s.SyncType)},
		{Name: "status", Value: string(s.Status)},
		{Name: "run_id", Value: s.RunID},
		{Name: "last_offset", Value: s.LastOffset},
		{Name: "total_processed", Value: s.TotalProcessed},
		{Name: "total_created", Value: s.TotalCreated},
		{Name: "total_updated", Value: s.TotalUpdated},
		{Name: "total_skipped", Value: s.TotalSkipped},
		{Name: "error_count", Value: s.ErrorCount},
		{Name: "months", Value: s.Months},
		{Name: "force_update", Value: s.ForceUpdate},
		{Name: "window_start", Value: nullDate(domain.DatePtr(s.WindowStart))},
		{Name: "window_end", Value: nullDate(domain.DatePtr(s.WindowEnd))},
		{Name: "partial", Value: s.Partial},
		{Name: "last_error", Value: bigquery.NullString{StringVal: s.LastError, Valid: s.LastError != ""}},
		{Name: "started_by", Value: bigquery.NullString{StringVal: s.StartedBy, Valid: s.StartedBy != ""}},
		{Name: "started_ts", Value: nullTimestamp(s.StartedAt)},
		{Name: "finished_ts", Value: nullTimestamp(s.FinishedAt)},
		{Name: "updated_ts", Value: s.UpdatedAt},
	}
}

// SnapshotRow mirrors sync_snapshots.
type SnapshotRow struct {
	SnapshotID string    `bigquery:"snapshot_id"`
	RunID      string    `bigquery:"run_id"`
	SyncType   string    `bigquery:"sync_type"`
	PageOffset int64     `bigquery:"page_offset"`
	Fetched    int64     `bigquery:"fetched"`
	Created    int64     `bigquery:"created"`
	Updated    int64     `bigquery:"updated"`
	Skipped    int64     `bigquery:"skipped"`
	Errors     int64     `bigquery:"errors"`
	CreatedTS  time.Time `bigquery:"created_ts"`
}

// AuditRow mirrors audit_logs.
type AuditRow struct {
	AuditID   string              `bigquery:"audit_id"`
	Action    string              `bigquery:"action"`
	Entity    string              `bigquery:"entity"`
	UserID    bigquery.NullString `bigquery:"user_id"`
	Details   bigquery.NullJSON   `bigquery:"details"`
	CreatedTS time.Time           `bigquery:"created_ts"`
}

// WebhookEventRow mirrors webhook_events.
type WebhookEventRow struct {
	EventID    string              `bigquery:"event_id"`
	Kind       string              `bigquery:"kind"`
	Phone      bigquery.NullString `bigquery:"phone"`
	MessageID  bigquery.NullString `bigquery:"message_id"`
	Payload    bigquery.NullJSON   `bigquery:"payload"`
	ReceivedTS time.Time           `bigquery:"received_ts"`
}

// MessageRow mirrors messages.
type MessageRow struct {
	MessageID        string              `bigquery:"message_id"`
	GatewayMessageID string              `bigquery:"gateway_message_id"`
	Phone            string              `bigquery:"phone"`
	Direction        string              `bigquery:"direction"`
	MessageType      bigquery.NullString `bigquery:"message_type"`
	Body             bigquery.NullString `bigquery:"body"`
	MediaURL         bigquery.NullString `bigquery:"media_url"`
	SenderName       bigquery.NullString `bigquery:"sender_name"`
	Status           string              `bigquery:"status"`
	SentTS           time.Time           `bigquery:"sent_ts"`
	CreatedTS        time.Time           `bigquery:"created_ts"`
}

func (r *MessageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:               r.MessageID,
		GatewayMessageID: r.GatewayMessageID,
		Phone:            r.Phone,
		Direction:        domain.Direction(r.Direction),
		Type:             r.MessageType.StringVal,
		Body:             r.Body.StringVal,
		MediaURL:         r.MediaURL.StringVal,
		SenderName:       r.SenderName.StringVal,
		Status:           r.Status,
		SentAt:           r.SentTS,
		CreatedAt:        r.CreatedTS,
	}
}

// ConversationRow mirrors conversations.
type ConversationRow struct {
	Phone         string              `bigquery:"phone"`
	Name          bigquery.NullString `bigquery:"name"`
	IsGroup       bool                `bigquery:"is_group"`
	LastMessage   bigquery.NullString `bigquery:"last_message"`
	LastMessageTS time.Time           `bigquery:"last_message_ts"`
	UnreadCount   int64               `bigquery:"unread_count"`
	UpdatedTS     time.Time           `bigquery:"updated_ts"`
}

func (r *ConversationRow) toDomain() *domain.Conversation {
	return &domain.Conversation{
		Phone:         r.Phone,
		Name:          r.Name.StringVal,
		IsGroup:       r.IsGroup,
		LastMessage:   r.LastMessage.StringVal,
		LastMessageAt: r.LastMessageTS,
		UnreadCount:   int(r.UnreadCount),
		UpdatedAt:     r.UpdatedTS,
	}
}

func nullJSON(raw json.RawMessage) bigquery.NullJSON {
	if len(raw) == 0 {
		return bigquery.NullJSON{}
	}
	return bigquery.NullJSON{JSONVal: string(raw), Valid: true}
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func stringPtr(n bigquery.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.StringVal
	return &s
}

func nullDate(d *civil.Date) bigquery.NullDate {
	if d == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: *d, Valid: true}
}

func datePtr(n bigquery.NullDate) *civil.Date {
	if !n.Valid {
		return nil
	}
	d := n.Date
	return &d
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}
