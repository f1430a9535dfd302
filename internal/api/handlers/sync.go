package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dvloznov/intranet-sync/internal/advboxsync"
	"github.com/dvloznov/intranet-sync/internal/api/middleware"
	"github.com/dvloznov/intranet-sync/internal/auth"
	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/jobs"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/rs/zerolog"
)

// SyncService is the part of advboxsync.Syncer exposed over HTTP.
type SyncService interface {
	Run(ctx context.Context, p advboxsync.Params) (*advboxsync.Summary, error)
	Status(ctx context.Context) (*domain.SyncStatus, error)
	Stop(ctx context.Context, actor *auth.Identity) (bool, error)
}

// SyncHandler handles the financial sync endpoints.
type SyncHandler struct {
	syncer    SyncService
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewSyncHandler creates a new sync handler. A nil publisher disables
// background runs requested with ?async=true.
func NewSyncHandler(syncer SyncService, publisher jobs.Publisher, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:    syncer,
		publisher: publisher,
		log:       log,
	}
}

type syncRequest struct {
	Months      int  `json:"months"`
	ForceUpdate bool `json:"force_update"`
}

type failureResponse struct {
	Success bool                `json:"success"`
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Summary *advboxsync.Summary `json:"summary,omitempty"`
}

// RunSync handles POST /functions/v1/sync-advbox-financial
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := auth.FromContext(ctx)

	if err := auth.Require(actor, auth.FeatureFinancial, auth.LevelEdit); err != nil {
		writeAuthError(w, err)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Months < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "months must be positive")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, req, actor)
		return
	}

	summary, err := h.syncer.Run(ctx, advboxsync.Params{
		Months:      req.Months,
		ForceUpdate: req.ForceUpdate,
		Actor:       actor,
	})
	if err != nil {
		h.writeRunError(w, err, summary)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, summary)
}

func (h *SyncHandler) enqueue(w http.ResponseWriter, r *http.Request, req syncRequest, actor *auth.Identity) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "Background sync is not enabled")
		return
	}

	job := &jobs.SyncJob{
		Months:      req.Months,
		ForceUpdate: req.ForceUpdate,
		Trigger:     jobs.TriggerAPI,
		RequestedBy: actor.UserID,
	}
	if err := h.publisher.PublishSync(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue sync job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue sync job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("user_id", actor.UserID).Msg("Sync job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"job_id":  job.JobID,
		"status":  string(job.Status),
	})
}

func (h *SyncHandler) writeRunError(w http.ResponseWriter, err error, summary *advboxsync.Summary) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrForbidden):
		writeAuthError(w, err)
		return
	case errors.Is(err, store.ErrSyncInProgress):
		middleware.WriteJSON(w, http.StatusConflict, failureResponse{
			Error:   "sync_in_progress",
			Message: "A financial sync is already running. Try again when it finishes.",
		})
		return
	}

	resp := failureResponse{Error: err.Error(), Summary: summary}
	switch {
	case summary != nil:
		resp.Message = summary.Message
	case errors.Is(err, advboxsync.ErrMissingCredential):
		resp.Message = "ADVBox API token is not configured"
	default:
		resp.Message = "Sync failed"
	}

	h.log.Error().Err(err).Msg("Financial sync failed")
	middleware.WriteJSON(w, http.StatusInternalServerError, resp)
}

// GetStatus handles GET /api/sync/financial/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := auth.FromContext(ctx)
	if err := auth.Require(actor, auth.FeatureFinancial, auth.LevelView); err != nil {
		writeAuthError(w, err)
		return
	}

	status, err := h.syncer.Status(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load sync status")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load sync status")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, status)
}

// StopSync handles POST /api/sync/financial/stop
func (h *SyncHandler) StopSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := auth.FromContext(ctx)

	signalled, err := h.syncer.Stop(ctx, actor)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrForbidden) {
			writeAuthError(w, err)
			return
		}
		h.log.Error().Err(err).Msg("Failed to stop sync")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to stop sync")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"signalled": signalled,
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrForbidden) {
		middleware.WriteJSON(w, http.StatusForbidden, failureResponse{
			Error:   "forbidden",
			Message: "Edit permission on the financial module is required",
		})
		return
	}
	middleware.WriteJSON(w, http.StatusUnauthorized, failureResponse{
		Error:   "unauthorized",
		Message: "A valid bearer token is required",
	})
}
