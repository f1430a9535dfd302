package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use. Data is lost on restart; it backs tests
// and local development.
type Store struct {
	mu sync.RWMutex

	categories []domain.Category
	accounts   []domain.Account

	entries   map[string]*domain.Entry // keyed by external id
	statuses  map[domain.SyncType]*domain.SyncStatus
	snapshots []domain.SyncSnapshot
	auditLogs []domain.AuditLog
	events    []domain.WebhookEvent
	messages  map[string]*domain.Message // keyed by gateway message id
	convs     map[string]*domain.Conversation
	now       func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entries:  make(map[string]*domain.Entry),
		statuses: make(map[domain.SyncType]*domain.SyncStatus),
		messages: make(map[string]*domain.Message),
		convs:    make(map[string]*domain.Conversation),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for lease checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SeedCategory adds a category.
func (s *Store) SeedCategory(c domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.categories = append(s.categories, c)
}

// SeedAccount adds an account.
func (s *Store) SeedAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.accounts = append(s.accounts, a)
}

// Entries returns a copy of every ledger entry ordered by external id.
func (s *Store) Entries() []domain.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// Snapshots returns a copy of the recorded page snapshots.
func (s *Store) Snapshots() []domain.SyncSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SyncSnapshot(nil), s.snapshots...)
}

// AuditLogs returns a copy of the audit log.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditLog(nil), s.auditLogs...)
}

// WebhookEvents returns a copy of the raw webhook rows.
func (s *Store) WebhookEvents() []domain.WebhookEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.WebhookEvent(nil), s.events...)
}

// Messages returns every stored message ordered by sent time.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

// ListActiveCategories implements store.LedgerRepository.
func (s *Store) ListActiveCategories(ctx context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Category
	for _, c := range s.categories {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// ListActiveAccounts implements store.LedgerRepository.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Account
	for _, a := range s.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindEntryByExternalID implements store.LedgerRepository.
func (s *Store) FindEntryByExternalID(ctx context.Context, externalID string) (*domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[externalID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// InsertEntry implements store.LedgerRepository.
func (s *Store) InsertEntry(ctx context.Context, entry *domain.Entry) error {
	if entry.ExternalID == "" {
		return fmt.Errorf("InsertEntry: external id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ExternalID]; exists {
		return store.ErrDuplicateExternalID
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	cp := *entry
	s.entries[entry.ExternalID] = &cp
	return nil
}

// UpdateEntryByExternalID implements store.LedgerRepository.
func (s *Store) UpdateEntryByExternalID(ctx context.Context, entry *domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[entry.ExternalID]
	if !ok {
		return store.ErrNotFound
	}
	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	entry.CreatedBy = existing.CreatedBy

	cp := *entry
	s.entries[entry.ExternalID] = &cp
	return nil
}

// GetSyncStatus implements store.SyncStatusRepository.
func (s *Store) GetSyncStatus(ctx context.Context, syncType domain.SyncType) (*domain.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[syncType]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// AcquireSyncStatus implements store.SyncStatusRepository.
func (s *Store) AcquireSyncStatus(ctx context.Context, status *domain.SyncStatus, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.statuses[status.SyncType]; ok {
		if cur.Status == domain.SyncRunning && !cur.Stale(s.now(), lease) {
			return store.ErrSyncInProgress
		}
	}
	cp := *status
	s.statuses[status.SyncType] = &cp
	return nil
}

// SaveSyncStatus implements store.SyncStatusRepository.
func (s *Store) SaveSyncStatus(ctx context.Context, status *domain.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *status
	s.statuses[status.SyncType] = &cp
	return nil
}

// InsertSyncSnapshot implements store.SyncStatusRepository.
func (s *Store) InsertSyncSnapshot(ctx context.Context, snap *domain.SyncSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	s.snapshots = append(s.snapshots, *snap)
	return nil
}

// InsertAuditLog implements store.AuditRepository.
func (s *Store) InsertAuditLog(ctx context.Context, entry *domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.auditLogs = append(s.auditLogs, *entry)
	return nil
}

// InsertWebhookEvent implements store.MessagingRepository.
func (s *Store) InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	s.events = append(s.events, *event)
	return nil
}

// FindMessageByGatewayID implements store.MessagingRepository.
func (s *Store) FindMessageByGatewayID(ctx context.Context, gatewayID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[gatewayID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// InsertMessage implements store.MessagingRepository.
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.GatewayMessageID]; exists {
		return store.ErrDuplicateMessage
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	cp := *msg
	s.messages[msg.GatewayMessageID] = &cp
	return nil
}

// UpdateMessageStatus implements store.MessagingRepository.
func (s *Store) UpdateMessageStatus(ctx context.Context, gatewayID, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[gatewayID]
	if !ok {
		return false, nil
	}
	m.Status = status
	return true, nil
}

// UpsertConversation implements store.MessagingRepository.
func (s *Store) UpsertConversation(ctx context.Context, conv *domain.Conversation, incrementUnread bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.convs[conv.Phone]
	if !ok {
		cp := *conv
		cp.UnreadCount = 0
		if incrementUnread {
			cp.UnreadCount = 1
		}
		s.convs[conv.Phone] = &cp
		return nil
	}

	if conv.Name != "" {
		cur.Name = conv.Name
	}
	cur.IsGroup = conv.IsGroup
	if !conv.LastMessageAt.Before(cur.LastMessageAt) {
		cur.LastMessage = conv.LastMessage
		cur.LastMessageAt = conv.LastMessageAt
	}
	if incrementUnread {
		cur.UnreadCount++
	}
	cur.UpdatedAt = conv.UpdatedAt
	return nil
}

// GetConversation implements store.MessagingRepository.
func (s *Store) GetConversation(ctx context.Context, phone string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[phone]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
