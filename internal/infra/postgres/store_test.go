package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(fmt.Errorf("plain")))
}

func TestEntryRow_RoundTrip(t *testing.T) {
	due := civil.Date{Year: 2026, Month: 2, Day: 10}
	entry := &domain.Entry{
		ID:            "e1",
		ExternalID:    "77",
		Source:        domain.SourceADVBox,
		Kind:          domain.KindIncome,
		Amount:        decimal.RequireFromString("99.90"),
		CategoryID:    domain.StringPtr("cat"),
		ScheduledDate: due,
		DueDate:       &due,
		Status:        domain.StatusPaid,
		PaidDate:      &due,
	}

	row := entryRowFromDomain(entry)
	assert.True(t, row.CategoryID.Valid)
	assert.False(t, row.AccountID.Valid)
	assert.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), row.ScheduledDate)

	back := row.toDomain()
	assert.True(t, entry.Amount.Equal(back.Amount))
	assert.Nil(t, back.AccountID)
	require.NotNil(t, back.PaidDate)
	assert.Equal(t, due, *back.PaidDate)
	assert.Equal(t, due, back.ScheduledDate)
}

func TestStatusRow_ZeroWindowIsNull(t *testing.T) {
	row := statusRowFromDomain(&domain.SyncStatus{SyncType: domain.SyncTypeFinancial, Status: domain.SyncIdle})
	assert.False(t, row.WindowStart.Valid)
	assert.False(t, row.WindowEnd.Valid)
	assert.False(t, row.StartedAt.Valid)

	st := row.toDomain()
	assert.True(t, st.WindowStart.IsZero())
	assert.Nil(t, st.StartedAt)
}

func TestJSONB(t *testing.T) {
	assert.False(t, jsonb(nil).Valid)
	v := jsonb(json.RawMessage(`{"a":1}`))
	assert.True(t, v.Valid)
	assert.Equal(t, `{"a":1}`, v.String)
}

// openTestStore connects to TEST_DATABASE_URL, applies the migrations and
// empties the tables. Tests using it are skipped without a database.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Migrate(ctx)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `TRUNCATE financial_entries, categories, accounts, sync_status,
		sync_snapshots, audit_logs, webhook_events, messages, conversations`)
	require.NoError(t, err)
	return s
}

func TestStore_Entries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, `INSERT INTO categories (id, name, kind) VALUES ('c1', 'Honorários', 'income')`)
	require.NoError(t, err)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := &domain.Entry{
		ExternalID:    "ext-" + uuid.NewString(),
		Source:        domain.SourceADVBox,
		Kind:          domain.KindIncome,
		Amount:        decimal.RequireFromString("10.50"),
		CategoryID:    domain.StringPtr("c1"),
		ScheduledDate: civil.Date{Year: 2026, Month: 2, Day: 10},
		Status:        domain.StatusPending,
		CreatedAt:     created,
		UpdatedAt:     created,
		CreatedBy:     "importer",
	}
	require.NoError(t, s.InsertEntry(ctx, entry))
	assert.NotEmpty(t, entry.ID)

	dup := *entry
	dup.ID = ""
	assert.ErrorIs(t, s.InsertEntry(ctx, &dup), store.ErrDuplicateExternalID)

	update := *entry
	update.ID = ""
	update.CreatedBy = "someone-else"
	update.Amount = decimal.RequireFromString("11.00")
	update.UpdatedAt = created.Add(time.Hour)
	require.NoError(t, s.UpdateEntryByExternalID(ctx, &update))
	assert.Equal(t, entry.ID, update.ID)
	assert.Equal(t, "importer", update.CreatedBy)

	got, err := s.FindEntryByExternalID(ctx, entry.ExternalID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, decimal.RequireFromString("11").Equal(got.Amount))
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, "c1", *got.CategoryID)

	missing := *entry
	missing.ExternalID = "nope"
	assert.ErrorIs(t, s.UpdateEntryByExternalID(ctx, &missing), store.ErrNotFound)

	none, err := s.FindEntryByExternalID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_AcquireSyncStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	running := &domain.SyncStatus{
		SyncType:    domain.SyncTypeFinancial,
		Status:      domain.SyncRunning,
		RunID:       "r1",
		Months:      12,
		WindowStart: civil.Date{Year: 2025, Month: 3, Day: 1},
		WindowEnd:   civil.Date{Year: 2026, Month: 3, Day: 1},
		StartedAt:   &now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.AcquireSyncStatus(ctx, running, 2*time.Minute))

	second := *running
	second.RunID = "r2"
	second.UpdatedAt = now.Add(time.Minute)
	assert.ErrorIs(t, s.AcquireSyncStatus(ctx, &second, 2*time.Minute), store.ErrSyncInProgress)

	second.UpdatedAt = now.Add(5 * time.Minute)
	require.NoError(t, s.AcquireSyncStatus(ctx, &second, 2*time.Minute))

	got, err := s.GetSyncStatus(ctx, domain.SyncTypeFinancial)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r2", got.RunID)
	assert.Equal(t, running.WindowStart, got.WindowStart)

	got.Status = domain.SyncIdle
	got.Partial = true
	got.LastOffset = 150
	require.NoError(t, s.SaveSyncStatus(ctx, got))

	again, err := s.GetSyncStatus(ctx, domain.SyncTypeFinancial)
	require.NoError(t, err)
	assert.True(t, again.Resumable(12, false))

	require.NoError(t, s.InsertSyncSnapshot(ctx, &domain.SyncSnapshot{RunID: "r2", SyncType: domain.SyncTypeFinancial, Fetched: 50, CreatedAt: now}))
	require.NoError(t, s.InsertAuditLog(ctx, &domain.AuditLog{Action: "test", Entity: "x", Details: json.RawMessage(`{"ok":true}`), CreatedAt: now}))
}

func TestStore_Messaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertWebhookEvent(ctx, &domain.WebhookEvent{
		Kind: domain.EventMessageReceived, Payload: json.RawMessage(`{}`), ReceivedAt: now,
	}))

	msg := &domain.Message{
		GatewayMessageID: "m1",
		Phone:            "5511999999999",
		Direction:        domain.DirectionInbound,
		Type:             "text",
		Body:             "hello",
		Status:           "received",
		SentAt:           now,
		CreatedAt:        now,
	}
	require.NoError(t, s.InsertMessage(ctx, msg))
	assert.ErrorIs(t, s.InsertMessage(ctx, &domain.Message{GatewayMessageID: "m1", Phone: "x", Direction: domain.DirectionInbound, Status: "received", SentAt: now, CreatedAt: now}), store.ErrDuplicateMessage)

	ok, err := s.UpdateMessageStatus(ctx, "m1", "read")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UpdateMessageStatus(ctx, "missing", "read")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.FindMessageByGatewayID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "read", got.Status)

	conv := &domain.Conversation{Phone: msg.Phone, Name: "Ana", LastMessage: "hello", LastMessageAt: now, UpdatedAt: now}
	require.NoError(t, s.UpsertConversation(ctx, conv, true))

	older := &domain.Conversation{Phone: msg.Phone, LastMessage: "old", LastMessageAt: now.Add(-time.Hour), UpdatedAt: now}
	require.NoError(t, s.UpsertConversation(ctx, older, true))

	c, err := s.GetConversation(ctx, msg.Phone)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Ana", c.Name)
	assert.Equal(t, "hello", c.LastMessage)
	assert.Equal(t, 2, c.UnreadCount)
	assert.True(t, now.Equal(c.LastMessageAt))
}
