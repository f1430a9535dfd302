package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/dvloznov/intranet-sync/internal/api/middleware"
	"github.com/dvloznov/intranet-sync/internal/zapi"
	"github.com/rs/zerolog"
)

// maxWebhookBody bounds the payload read from the gateway.
const maxWebhookBody = 1 << 20

// EventProcessor persists one raw gateway payload.
type EventProcessor interface {
	Process(ctx context.Context, raw []byte) (*zapi.Result, error)
}

// WebhookHandler receives WhatsApp gateway callbacks.
type WebhookHandler struct {
	processor   EventProcessor
	clientToken string
	log         zerolog.Logger
}

// NewWebhookHandler creates a webhook handler. When clientToken is set,
// requests must carry it in the Client-Token header.
func NewWebhookHandler(processor EventProcessor, clientToken string, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor:   processor,
		clientToken: clientToken,
		log:         log,
	}
}

// Receive handles POST /webhooks/zapi
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if h.clientToken != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get("Client-Token")), []byte(h.clientToken)) != 1 {
		middleware.WriteError(w, http.StatusUnauthorized, "Invalid client token")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	result, err := h.processor.Process(r.Context(), raw)
	if err != nil {
		if errors.Is(err, zapi.ErrInvalidPayload) {
			middleware.WriteError(w, http.StatusBadRequest, "Payload must be a JSON object")
			return
		}
		h.log.Error().Err(err).Msg("Failed to process webhook")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}
