package zapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/logger"
	"github.com/dvloznov/intranet-sync/internal/store"
)

// Result reports what Process did with a payload.
type Result struct {
	EventID       string           `json:"eventId"`
	Kind          domain.EventKind `json:"kind"`
	MessageStored bool             `json:"messageStored"`
	Duplicate     bool             `json:"duplicate"`
	StatusUpdated int              `json:"statusUpdated"`
}

// Processor persists classified webhook payloads.
type Processor struct {
	repo store.MessagingRepository
	now  func() time.Time
}

// NewProcessor creates a Processor backed by repo.
func NewProcessor(repo store.MessagingRepository) *Processor {
	return &Processor{repo: repo, now: time.Now}
}

// Process classifies raw and stores it. The raw event row is always
// written; chat messages with content also update the conversation, and
// status callbacks update earlier messages.
func (p *Processor) Process(ctx context.Context, raw []byte) (*Result, error) {
	log := logger.FromContext(ctx)

	ev, err := Classify(raw)
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()

	row := &domain.WebhookEvent{
		Kind:       ev.Kind,
		Phone:      ev.Phone,
		MessageID:  ev.MessageID,
		Payload:    append([]byte(nil), raw...),
		ReceivedAt: now,
	}
	if err := p.repo.InsertWebhookEvent(ctx, row); err != nil {
		return nil, fmt.Errorf("Process: storing raw event: %w", err)
	}

	res := &Result{EventID: row.ID, Kind: ev.Kind}

	switch {
	case ev.IsChat() && ev.HasContent():
		if err := p.storeMessage(ctx, ev, now, res); err != nil {
			return res, err
		}
	case ev.Kind == domain.EventMessageStatus:
		status := strings.ToLower(ev.Status)
		for _, id := range ev.MessageIDs {
			ok, err := p.repo.UpdateMessageStatus(ctx, id, status)
			if err != nil {
				return res, fmt.Errorf("Process: updating status of %s: %w", id, err)
			}
			if ok {
				res.StatusUpdated++
			}
		}
	}

	log.Debug().
		Str("kind", string(ev.Kind)).
		Str("message_id", ev.MessageID).
		Bool("stored", res.MessageStored).
		Bool("duplicate", res.Duplicate).
		Int("status_updated", res.StatusUpdated).
		Msg("Processed Z-API webhook")

	return res, nil
}

func (p *Processor) storeMessage(ctx context.Context, ev Event, now time.Time, res *Result) error {
	if ev.MessageID == "" || ev.Phone == "" {
		log := logger.FromContext(ctx)
		log.Warn().Str("kind", string(ev.Kind)).Msg("Chat message without id or phone, not stored")
		return nil
	}

	existing, err := p.repo.FindMessageByGatewayID(ctx, ev.MessageID)
	if err != nil {
		return fmt.Errorf("storeMessage: lookup: %w", err)
	}
	if existing != nil {
		res.Duplicate = true
		return nil
	}

	sentAt := ev.Timestamp
	if sentAt.IsZero() {
		sentAt = now
	}

	direction := domain.DirectionInbound
	status := "received"
	if ev.Kind == domain.EventMessageSent {
		direction = domain.DirectionOutbound
		status = "sent"
	}
	if ev.Status != "" {
		status = strings.ToLower(ev.Status)
	}

	msg := &domain.Message{
		GatewayMessageID: ev.MessageID,
		Phone:            ev.Phone,
		Direction:        direction,
		Type:             ev.Type,
		Body:             ev.Body,
		MediaURL:         ev.MediaURL,
		SenderName:       ev.SenderName,
		Status:           status,
		SentAt:           sentAt,
		CreatedAt:        now,
	}
	if err := p.repo.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) {
			res.Duplicate = true
			return nil
		}
		return fmt.Errorf("storeMessage: insert: %w", err)
	}
	res.MessageStored = true

	conv := &domain.Conversation{
		Phone:         ev.Phone,
		Name:          conversationName(ev),
		IsGroup:       ev.IsGroup,
		LastMessage:   ev.Preview(),
		LastMessageAt: sentAt,
		UpdatedAt:     now,
	}
	if err := p.repo.UpsertConversation(ctx, conv, direction == domain.DirectionInbound); err != nil {
		return fmt.Errorf("storeMessage: conversation: %w", err)
	}
	return nil
}

// conversationName prefers the chat name. A sender name only names a
// direct inbound chat; in groups it is the member who wrote.
func conversationName(ev Event) string {
	if ev.ChatName != "" {
		return ev.ChatName
	}
	if !ev.IsGroup && !ev.FromMe {
		return ev.SenderName
	}
	return ""
}
