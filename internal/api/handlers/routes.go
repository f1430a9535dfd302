package handlers

import (
	"net/http"
	"strings"

	"github.com/dvloznov/intranet-sync/internal/api/middleware"
)

// Routes groups the handlers served by the API. Nil handlers are not
// registered.
type Routes struct {
	Sync    *SyncHandler
	Webhook *WebhookHandler
	Jobs    *JobsHandler
}

// Register adds every route to mux.
func (rt Routes) Register(mux *http.ServeMux) {
	if rt.Sync != nil {
		mux.HandleFunc("/functions/v1/sync-advbox-financial", method(http.MethodPost, rt.Sync.RunSync))
		mux.HandleFunc("/api/sync/financial/status", method(http.MethodGet, rt.Sync.GetStatus))
		mux.HandleFunc("/api/sync/financial/stop", method(http.MethodPost, rt.Sync.StopSync))
	}

	if rt.Webhook != nil {
		mux.HandleFunc("/webhooks/zapi", method(http.MethodPost, rt.Webhook.Receive))
	}

	if rt.Jobs != nil {
		mux.HandleFunc("/api/jobs", method(http.MethodGet, rt.Jobs.ListJobs))
		mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			// Extract job ID from path
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			rt.Jobs.GetJob(w, r, jobID)
		})
	}

	mux.HandleFunc("/health", Health)
}

func method(allowed string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != allowed {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}
