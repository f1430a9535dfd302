package zapi

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	inboundText = `{
		"type": "ReceivedCallback",
		"phone": "5511999990000",
		"fromMe": false,
		"messageId": "3EB0A1",
		"momment": 1767261600000,
		"status": "RECEIVED",
		"senderName": "Maria",
		"chatName": "Maria Silva",
		"isGroup": false,
		"text": {"message": "Bom dia, doutor"}
	}`
	outboundImage = `{
		"type": "ReceivedCallback",
		"phone": "5511999990000",
		"fromMe": true,
		"messageId": "3EB0B2",
		"momment": 1767261660000,
		"image": {"imageUrl": "https://cdn.example/img.jpg", "caption": ""}
	}`
	statusRead = `{
		"type": "MessageStatusCallback",
		"status": "READ",
		"ids": ["3EB0B2", "UNKNOWN"],
		"phone": "5511999990000",
		"momment": 1767261700000
	}`
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    domain.EventKind
	}{
		{"received text", inboundText, domain.EventMessageReceived},
		{"sent media", outboundImage, domain.EventMessageSent},
		{"status", statusRead, domain.EventMessageStatus},
		{"status without type", `{"status": "DELIVERED", "ids": ["a"]}`, domain.EventMessageStatus},
		{"presence", `{"type": "PresenceChatCallback", "phone": "55119", "status": "COMPOSING"}`, domain.EventPresence},
		{"connected", `{"type": "ConnectedCallback", "connected": true}`, domain.EventConnection},
		{"disconnected flag only", `{"connected": false, "error": "session closed"}`, domain.EventConnection},
		{"delivery", `{"type": "DeliveryCallback", "phone": "55119", "messageId": "x"}`, domain.EventMessageSent},
		{"untyped chat", `{"phone": "55119", "messageId": "x", "text": {"message": "oi"}}`, domain.EventMessageReceived},
		{"unknown", `{"foo": "bar"}`, domain.EventUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Classify([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Kind)
		})
	}
}

func TestClassify_ExtractsFields(t *testing.T) {
	ev, err := Classify([]byte(inboundText))
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", ev.Phone)
	assert.Equal(t, "3EB0A1", ev.MessageID)
	assert.Equal(t, "text", ev.Type)
	assert.Equal(t, "Bom dia, doutor", ev.Body)
	assert.Equal(t, time.UnixMilli(1767261600000).UTC(), ev.Timestamp)
	assert.True(t, ev.HasContent())

	img, err := Classify([]byte(outboundImage))
	require.NoError(t, err)
	assert.Equal(t, "image", img.Type)
	assert.Equal(t, "https://cdn.example/img.jpg", img.MediaURL)
	assert.Equal(t, "[image]", img.Preview())

	doc, err := Classify([]byte(`{"phone": "1", "messageId": "d", "document": {"documentUrl": "u", "fileName": "contrato.pdf"}}`))
	require.NoError(t, err)
	assert.Equal(t, "contrato.pdf", doc.Body)
}

func TestClassify_RejectsNonObjects(t *testing.T) {
	for _, payload := range []string{`not json`, `[1,2]`, `null`, ``} {
		_, err := Classify([]byte(payload))
		assert.ErrorIs(t, err, ErrInvalidPayload, payload)
	}
}

func newProcessor(st *memory.Store) *Processor {
	p := NewProcessor(st)
	p.now = func() time.Time { return time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) }
	return p
}

func TestProcess_InboundMessage(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := newProcessor(st)

	res, err := p.Process(ctx, []byte(inboundText))
	require.NoError(t, err)
	assert.True(t, res.MessageStored)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.EventID)

	msgs := st.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, "received", msgs[0].Status)
	assert.Equal(t, "Maria", msgs[0].SenderName)

	conv, err := st.GetConversation(ctx, "5511999990000")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "Maria Silva", conv.Name)
	assert.Equal(t, "Bom dia, doutor", conv.LastMessage)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestProcess_DuplicateDeliveryIgnored(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := newProcessor(st)

	_, err := p.Process(ctx, []byte(inboundText))
	require.NoError(t, err)
	res, err := p.Process(ctx, []byte(inboundText))
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.False(t, res.MessageStored)
	assert.Len(t, st.Messages(), 1)
	assert.Len(t, st.WebhookEvents(), 2, "raw events are always kept")

	conv, err := st.GetConversation(ctx, "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestProcess_OutboundThenStatus(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := newProcessor(st)

	_, err := p.Process(ctx, []byte(inboundText))
	require.NoError(t, err)
	_, err = p.Process(ctx, []byte(outboundImage))
	require.NoError(t, err)

	conv, err := st.GetConversation(ctx, "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount, "outbound messages do not count as unread")
	assert.Equal(t, "[image]", conv.LastMessage)
	assert.Equal(t, "Maria Silva", conv.Name)

	res, err := p.Process(ctx, []byte(statusRead))
	require.NoError(t, err)
	assert.Equal(t, domain.EventMessageStatus, res.Kind)
	assert.Equal(t, 1, res.StatusUpdated)

	msg, err := st.FindMessageByGatewayID(ctx, "3EB0B2")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "read", msg.Status)
	assert.Equal(t, domain.DirectionOutbound, msg.Direction)
}

func TestProcess_NonChatEventsOnlyLogged(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := newProcessor(st)

	payloads := []string{
		`{"type": "PresenceChatCallback", "phone": "55119", "status": "AVAILABLE"}`,
		`{"type": "ReceivedCallback", "phone": "55119", "messageId": "empty"}`,
		`{"foo": "bar"}`,
	}
	for _, payload := range payloads {
		res, err := p.Process(ctx, []byte(payload))
		require.NoError(t, err)
		assert.False(t, res.MessageStored)
	}

	assert.Len(t, st.WebhookEvents(), 3)
	assert.Empty(t, st.Messages())

	_, err := p.Process(ctx, []byte(`garbage`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Len(t, st.WebhookEvents(), 3)
}

func TestProcess_GroupMessage(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := newProcessor(st)

	_, err := p.Process(ctx, []byte(`{
		"type": "ReceivedCallback",
		"phone": "120363019502650977-group",
		"isGroup": true,
		"messageId": "G1",
		"senderName": "João",
		"text": {"message": "Reunião às 15h"}
	}`))
	require.NoError(t, err)

	conv, err := st.GetConversation(ctx, "120363019502650977-group")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.True(t, conv.IsGroup)
	assert.Empty(t, conv.Name, "the sender does not name a group")
	assert.Equal(t, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), conv.LastMessageAt)
}
