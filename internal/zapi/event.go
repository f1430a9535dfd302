// Package zapi classifies and stores Z-API WhatsApp gateway webhooks.
package zapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dvloznov/intranet-sync/internal/domain"
)

// Callback type names sent by the gateway in the "type" field.
const (
	typeReceived     = "ReceivedCallback"
	typeDelivery     = "DeliveryCallback"
	typeStatus       = "MessageStatusCallback"
	typePresence     = "PresenceChatCallback"
	typeConnected    = "ConnectedCallback"
	typeDisconnected = "DisconnectedCallback"
)

// ErrInvalidPayload is returned when the body is not a JSON object.
var ErrInvalidPayload = errors.New("zapi: payload is not a JSON object")

// mediaKinds lists the media blocks in the order they are checked, with
// the key holding the file URL.
var mediaKinds = []struct {
	key    string
	urlKey string
}{
	{"image", "imageUrl"},
	{"audio", "audioUrl"},
	{"video", "videoUrl"},
	{"document", "documentUrl"},
	{"sticker", "stickerUrl"},
}

// Event is the normalized view of one webhook payload.
type Event struct {
	Kind       domain.EventKind `json:"kind"`
	Phone      string           `json:"phone,omitempty"`
	MessageID  string           `json:"messageId,omitempty"`
	MessageIDs []string         `json:"messageIds,omitempty"`
	FromMe     bool             `json:"fromMe"`
	IsGroup    bool             `json:"isGroup"`
	Status     string           `json:"status,omitempty"`
	Type       string           `json:"type,omitempty"` // text, image, audio, video, document or sticker
	Body       string           `json:"body,omitempty"`
	MediaURL   string           `json:"mediaUrl,omitempty"`
	SenderName string           `json:"senderName,omitempty"`
	ChatName   string           `json:"chatName,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// IsChat reports whether the event is a sent or received chat message.
func (e Event) IsChat() bool {
	return e.Kind == domain.EventMessageReceived || e.Kind == domain.EventMessageSent
}

// HasContent reports whether the message carries text or media.
func (e Event) HasContent() bool {
	return strings.TrimSpace(e.Body) != "" || e.MediaURL != ""
}

// Classify decodes a raw payload and assigns it an event kind. Payloads
// are not schema-checked; the kind is picked from which fields are
// present, in priority order.
func Classify(raw []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return Event{Kind: domain.EventUnknown}, ErrInvalidPayload
	}

	ev := Event{
		Phone:      str(obj, "phone"),
		MessageID:  str(obj, "messageId"),
		MessageIDs: strList(obj["ids"]),
		FromMe:     boolean(obj["fromMe"]),
		IsGroup:    boolean(obj["isGroup"]),
		Status:     str(obj, "status"),
		SenderName: str(obj, "senderName"),
		ChatName:   str(obj, "chatName"),
		Timestamp:  millis(obj["momment"]),
	}
	extractContent(obj, &ev)

	callback := str(obj, "type")
	_, hasConnected := obj["connected"]

	switch {
	case callback == typeConnected || callback == typeDisconnected || hasConnected:
		ev.Kind = domain.EventConnection
	case callback == typeStatus || (len(ev.MessageIDs) > 0 && ev.Status != ""):
		ev.Kind = domain.EventMessageStatus
		if len(ev.MessageIDs) == 0 && ev.MessageID != "" {
			ev.MessageIDs = []string{ev.MessageID}
		}
	case callback == typePresence:
		ev.Kind = domain.EventPresence
	case callback == typeDelivery:
		ev.Kind = domain.EventMessageSent
	case callback == typeReceived || (ev.MessageID != "" && ev.Phone != ""):
		ev.Kind = domain.EventMessageReceived
		if ev.FromMe {
			ev.Kind = domain.EventMessageSent
		}
	default:
		ev.Kind = domain.EventUnknown
	}

	return ev, nil
}

func extractContent(obj map[string]interface{}, ev *Event) {
	if text, ok := obj["text"].(map[string]interface{}); ok {
		if msg := str(text, "message"); msg != "" {
			ev.Type = "text"
			ev.Body = msg
			return
		}
	}
	for _, m := range mediaKinds {
		block, ok := obj[m.key].(map[string]interface{})
		if !ok {
			continue
		}
		ev.Type = m.key
		ev.MediaURL = str(block, m.urlKey)
		ev.Body = str(block, "caption")
		if ev.Body == "" && m.key == "document" {
			ev.Body = str(block, "fileName")
		}
		return
	}
}

// Preview is the short text shown in conversation lists.
func (e Event) Preview() string {
	body := strings.TrimSpace(e.Body)
	if body == "" && e.Type != "" {
		body = "[" + e.Type + "]"
	}
	r := []rune(body)
	if len(r) > 120 {
		return string(r[:120]) + "..."
	}
	return body
}

func str(obj map[string]interface{}, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func strList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolean(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}

// millis reads a Unix millisecond timestamp; zero when absent.
func millis(v interface{}) time.Time {
	n, ok := v.(json.Number)
	if !ok {
		return time.Time{}
	}
	ms, err := n.Int64()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
