package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/google/uuid"
)

// InsertWebhookEvent stores the raw payload and its classification.
func (s *Store) InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, kind, phone, message_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, string(event.Kind), event.Phone, event.MessageID, jsonb(event.Payload), event.ReceivedAt)
	if err != nil {
		return fmt.Errorf("InsertWebhookEvent: %w", err)
	}
	return nil
}

// FindMessageByGatewayID returns nil, nil when the id is unknown.
func (s *Store) FindMessageByGatewayID(ctx context.Context, gatewayID string) (*domain.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, gateway_message_id, phone, direction, message_type, body,
		       media_url, sender_name, status, sent_at, created_at
		FROM messages WHERE gateway_message_id = $1
	`, gatewayID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("FindMessageByGatewayID: %w", err)
	}
	return row.toDomain(), nil
}

// InsertMessage fails with store.ErrDuplicateMessage on a repeated gateway id.
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, gateway_message_id, phone, direction, message_type, body,
		                      media_url, sender_name, status, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, msg.ID, msg.GatewayMessageID, msg.Phone, string(msg.Direction), msg.Type, msg.Body,
		msg.MediaURL, msg.SenderName, msg.Status, msg.SentAt, msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateMessage
		}
		return fmt.Errorf("InsertMessage: %w", err)
	}
	return nil
}

// UpdateMessageStatus reports whether a message matched gatewayID.
func (s *Store) UpdateMessageStatus(ctx context.Context, gatewayID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1 WHERE gateway_message_id = $2`, status, gatewayID)
	if err != nil {
		return false, fmt.Errorf("UpdateMessageStatus: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("UpdateMessageStatus: rows affected: %w", err)
	}
	return n > 0, nil
}

// UpsertConversation creates or refreshes the conversation for conv.Phone.
// An older message never replaces the stored preview.
func (s *Store) UpsertConversation(ctx context.Context, conv *domain.Conversation, incrementUnread bool) error {
	increment := 0
	if incrementUnread {
		increment = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (phone, name, is_group, last_message, last_message_at, unread_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE conversations.name END,
			is_group = EXCLUDED.is_group,
			last_message = CASE WHEN EXCLUDED.last_message_at >= conversations.last_message_at
				THEN EXCLUDED.last_message ELSE conversations.last_message END,
			last_message_at = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at),
			unread_count = conversations.unread_count + EXCLUDED.unread_count,
			updated_at = EXCLUDED.updated_at
	`, conv.Phone, conv.Name, conv.IsGroup, conv.LastMessage, conv.LastMessageAt, increment, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertConversation: %w", err)
	}
	return nil
}

// GetConversation returns nil, nil when the phone is unknown.
func (s *Store) GetConversation(ctx context.Context, phone string) (*domain.Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT phone, name, is_group, last_message, last_message_at, unread_count, updated_at
		FROM conversations WHERE phone = $1
	`, phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetConversation: %w", err)
	}
	return row.toDomain(), nil
}
