// Package store defines the persistence contract shared by the sync job,
// the webhook processor and the HTTP handlers. Backends live in
// internal/store/memory, internal/infra/bigquery and internal/infra/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/intranet-sync/internal/domain"
)

var (
	// ErrNotFound is returned when an update targets a row that does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateExternalID is returned by InsertEntry when another entry
	// already carries the same external id.
	ErrDuplicateExternalID = errors.New("store: duplicate external id")

	// ErrDuplicateMessage is returned by InsertMessage when the gateway
	// message id has been stored before.
	ErrDuplicateMessage = errors.New("store: duplicate gateway message id")

	// ErrSyncInProgress is returned by AcquireSyncStatus when another run
	// holds a fresh running row for the same sync type.
	ErrSyncInProgress = errors.New("store: sync already running")
)

// LedgerRepository provides the ledger reads and writes used by importers.
type LedgerRepository interface {
	// ListActiveCategories returns active categories ordered by name.
	ListActiveCategories(ctx context.Context) ([]domain.Category, error)

	// ListActiveAccounts returns active accounts, oldest first.
	ListActiveAccounts(ctx context.Context) ([]domain.Account, error)

	// FindEntryByExternalID returns nil, nil when no entry matches.
	FindEntryByExternalID(ctx context.Context, externalID string) (*domain.Entry, error)

	// InsertEntry stores a new entry, failing with ErrDuplicateExternalID
	// when the external id is taken.
	InsertEntry(ctx context.Context, entry *domain.Entry) error

	// UpdateEntryByExternalID overwrites the mutable fields of the entry
	// with entry.ExternalID. The stored id and creation fields are kept and
	// copied back into entry.
	UpdateEntryByExternalID(ctx context.Context, entry *domain.Entry) error
}

// SyncStatusRepository persists sync progress.
type SyncStatusRepository interface {
	// GetSyncStatus returns nil, nil when the sync type has never run.
	GetSyncStatus(ctx context.Context, syncType domain.SyncType) (*domain.SyncStatus, error)

	// AcquireSyncStatus writes status (which must be running) only if the
	// stored row is not running, or is running but older than lease.
	// Otherwise it returns ErrSyncInProgress and writes nothing.
	AcquireSyncStatus(ctx context.Context, status *domain.SyncStatus, lease time.Duration) error

	// SaveSyncStatus unconditionally replaces the row for status.SyncType.
	SaveSyncStatus(ctx context.Context, status *domain.SyncStatus) error

	// InsertSyncSnapshot appends a per-page snapshot.
	InsertSyncSnapshot(ctx context.Context, snap *domain.SyncSnapshot) error
}

// AuditRepository appends audit log rows.
type AuditRepository interface {
	InsertAuditLog(ctx context.Context, entry *domain.AuditLog) error
}

// MessagingRepository persists WhatsApp gateway traffic.
type MessagingRepository interface {
	// InsertWebhookEvent stores the raw payload and its classification.
	InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error

	// FindMessageByGatewayID returns nil, nil when the id is unknown.
	FindMessageByGatewayID(ctx context.Context, gatewayID string) (*domain.Message, error)

	// InsertMessage fails with ErrDuplicateMessage on a repeated gateway id.
	InsertMessage(ctx context.Context, msg *domain.Message) error

	// UpdateMessageStatus sets the delivery status of a stored message and
	// reports whether a row matched.
	UpdateMessageStatus(ctx context.Context, gatewayID, status string) (bool, error)

	// UpsertConversation creates or refreshes a conversation summary. When
	// incrementUnread is set the stored unread counter grows by one.
	UpsertConversation(ctx context.Context, conv *domain.Conversation, incrementUnread bool) error

	// GetConversation returns nil, nil when the phone is unknown.
	GetConversation(ctx context.Context, phone string) (*domain.Conversation, error)
}

// Store is the full persistence surface of the service.
type Store interface {
	LedgerRepository
	SyncStatusRepository
	AuditRepository
	MessagingRepository

	Close() error
}
