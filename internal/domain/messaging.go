package domain

import (
	"encoding/json"
	"time"
)

// EventKind is the classification given to an inbound gateway payload.
type EventKind string

const (
	EventMessageReceived EventKind = "message_received"
	EventMessageSent     EventKind = "message_sent"
	EventMessageStatus   EventKind = "message_status"
	EventPresence        EventKind = "presence"
	EventConnection      EventKind = "connection"
	EventUnknown         EventKind = "unknown"
)

// Direction of a chat message relative to the firm.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// WebhookEvent is the raw audit row kept for every payload received.
type WebhookEvent struct {
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind"`
	Phone      string          `json:"phone,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Conversation summarises the chat with one phone number or group.
type Conversation struct {
	Phone         string    `json:"phone"`
	Name          string    `json:"name"`
	IsGroup       bool      `json:"isGroup"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Message is one chat message. GatewayMessageID is unique.
type Message struct {
	ID               string    `json:"id"`
	GatewayMessageID string    `json:"gatewayMessageId"`
	Phone            string    `json:"phone"`
	Direction        Direction `json:"direction"`
	Type             string    `json:"type"`
	Body             string    `json:"body"`
	MediaURL         string    `json:"mediaUrl,omitempty"`
	SenderName       string    `json:"senderName,omitempty"`
	Status           string    `json:"status"`
	SentAt           time.Time `json:"sentAt"`
	CreatedAt        time.Time `json:"createdAt"`
}
