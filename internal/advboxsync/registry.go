package advboxsync

import (
	"context"
	"sync"

	"github.com/dvloznov/intranet-sync/internal/domain"
)

// Registry tracks the cancel function of the run in flight for each sync
// type inside this process, so a stop request reaches the running loop.
type Registry struct {
	mu   sync.Mutex
	runs map[domain.SyncType]activeRun
}

type activeRun struct {
	runID  string
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[domain.SyncType]activeRun)}
}

func (r *Registry) register(syncType domain.SyncType, runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[syncType] = activeRun{runID: runID, cancel: cancel}
}

func (r *Registry) unregister(syncType domain.SyncType, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runs[syncType]; ok && cur.runID == runID {
		delete(r.runs, syncType)
	}
}

// Cancel signals the in-flight run of syncType and returns its id.
func (r *Registry) Cancel(syncType domain.SyncType) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.runs[syncType]
	if !ok {
		return "", false
	}
	cur.cancel()
	return cur.runID, true
}

// CancelAll signals every in-flight run and returns how many were running.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.runs {
		cur.cancel()
	}
	return len(r.runs)
}

// Active returns the id of the in-flight run of syncType, if any.
func (r *Registry) Active(syncType domain.SyncType) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.runs[syncType]
	return cur.runID, ok
}
