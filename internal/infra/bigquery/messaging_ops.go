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

// InsertWebhookEvent streams the raw payload row.
func (s *Store) InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	row := &WebhookEventRow{
		EventID:    event.ID,
		Kind:       string(event.Kind),
		Phone:      bigquery.NullString{StringVal: event.Phone, Valid: event.Phone != ""},
		MessageID:  bigquery.NullString{StringVal: event.MessageID, Valid: event.MessageID != ""},
		Payload:    nullJSON(event.Payload),
		ReceivedTS: event.ReceivedAt,
	}

	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(webhookEventsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertWebhookEvent: inserting row: %w", err)
	}
	return nil
}

// FindMessageByGatewayID returns nil when the gateway id is unknown.
func (s *Store) FindMessageByGatewayID(ctx context.Context, gatewayID string) (*domain.Message, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			message_id, gateway_message_id, phone, direction, message_type,
			body, media_url, sender_name, status, sent_ts, created_ts
		FROM %s
		WHERE gateway_message_id = @gateway_message_id
		LIMIT 1
	`, s.table(messagesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "gateway_message_id", Value: gatewayID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindMessageByGatewayID: query read: %w", err)
	}

	var row MessageRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindMessageByGatewayID: iter next: %w", err)
	}
	return row.toDomain(), nil
}

// InsertMessage inserts msg unless its gateway id was stored before.
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @gateway_message_id AS gateway_message_id) S
		ON T.gateway_message_id = S.gateway_message_id
		WHEN NOT MATCHED THEN
		  INSERT (
			message_id, gateway_message_id, phone, direction, message_type,
			body, media_url, sender_name, status, sent_ts, created_ts
		  )
		  VALUES (
			@message_id, @gateway_message_id, @phone, @direction, @message_type,
			@body, @media_url, @sender_name, @status, @sent_ts, @created_ts
		  )
	`, s.table(messagesTable))

	params := []bigquery.QueryParameter{
		{Name: "message_id", Value: msg.ID},
		{Name: "gateway_message_id", Value: msg.GatewayMessageID},
		{Name: "phone", Value: msg.Phone},
		{Name: "direction", Value: string(msg.Direction)},
		{Name: "message_type", Value: bigquery.NullString{StringVal: msg.Type, Valid: msg.Type != ""}},
		{Name: "body", Value: bigquery.NullString{StringVal: msg.Body, Valid: msg.Body != ""}},
		{Name: "media_url", Value: bigquery.NullString{StringVal: msg.MediaURL, Valid: msg.MediaURL != ""}},
		{Name: "sender_name", Value: bigquery.NullString{StringVal: msg.SenderName, Valid: msg.SenderName != ""}},
		{Name: "status", Value: msg.Status},
		{Name: "sent_ts", Value: msg.SentAt},
		{Name: "created_ts", Value: msg.CreatedAt},
	}

	affected, err := s.exec(ctx, sql, params)
	if err != nil {
		return fmt.Errorf("InsertMessage: %w", err)
	}
	if affected == 0 {
		return store.ErrDuplicateMessage
	}
	return nil
}

// UpdateMessageStatus sets the delivery status of one message.
func (s *Store) UpdateMessageStatus(ctx context.Context, gatewayID, status string) (bool, error) {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status
		WHERE gateway_message_id = @gateway_message_id
	`, s.table(messagesTable))

	affected, err := s.exec(ctx, sql, []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "gateway_message_id", Value: gatewayID},
	})
	if err != nil {
		return false, fmt.Errorf("UpdateMessageStatus: %w", err)
	}
	return affected > 0, nil
}

// UpsertConversation creates or refreshes the summary row for conv.Phone.
// The last message only moves forward in time.
func (s *Store) UpsertConversation(ctx context.Context, conv *domain.Conversation, incrementUnread bool) error {
	increment := 0
	if incrementUnread {
		increment = 1
	}

	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @phone AS phone) S
		ON T.phone = S.phone
		WHEN MATCHED THEN
		  UPDATE SET
			name = COALESCE(@name, T.name),
			is_group = @is_group,
			last_message = IF(@last_message_ts >= T.last_message_ts, @last_message, T.last_message),
			last_message_ts = GREATEST(T.last_message_ts, @last_message_ts),
			unread_count = T.unread_count + @increment,
			updated_ts = @updated_ts
		WHEN NOT MATCHED THEN
		  INSERT (phone, name, is_group, last_message, last_message_ts, unread_count, updated_ts)
		  VALUES (@phone, @name, @is_group, @last_message, @last_message_ts, @increment, @updated_ts)
	`, s.table(conversationsTable))

	params := []bigquery.QueryParameter{
		{Name: "phone", Value: conv.Phone},
		{Name: "name", Value: bigquery.NullString{StringVal: conv.Name, Valid: conv.Name != ""}},
		{Name: "is_group", Value: conv.IsGroup},
		{Name: "last_message", Value: bigquery.NullString{StringVal: conv.LastMessage, Valid: conv.LastMessage != ""}},
		{Name: "last_message_ts", Value: conv.LastMessageAt},
		{Name: "increment", Value: increment},
		{Name: "updated_ts", Value: conv.UpdatedAt},
	}

	if _, err := s.exec(ctx, sql, params); err != nil {
		return fmt.Errorf("UpsertConversation: %w", err)
	}
	return nil
}

// GetConversation returns nil when the phone is unknown.
func (s *Store) GetConversation(ctx context.Context, phone string) (*domain.Conversation, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT phone, name, is_group, last_message, last_message_ts, unread_count, updated_ts
		FROM %s
		WHERE phone = @phone
		LIMIT 1
	`, s.table(conversationsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "phone", Value: phone},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetConversation: query read: %w", err)
	}

	var row ConversationRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetConversation: iter next: %w", err)
	}
	return row.toDomain(), nil
}
