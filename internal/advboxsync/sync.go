package advboxsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/intranet-sync/internal/auth"
	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/logger"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultMonths    = 12
	DefaultPageSize  = 50
	DefaultMaxPages  = 500
	DefaultBudget    = 55 * time.Second
	DefaultPageDelay = 800 * time.Millisecond
	DefaultLease     = 2 * time.Minute

	maxErrorSamples = 5
	auditAction     = "advbox_financial_sync"
	auditEntity     = "financial_entries"
)

// Options tunes a Syncer. Zero values take the defaults above.
type Options struct {
	PageSize  int
	MaxPages  int
	Budget    time.Duration
	PageDelay time.Duration
	Lease     time.Duration
	Retry     RetryConfig

	// DefaultAccountID pins the account attached to imported entries.
	// When empty the first active account is used.
	DefaultAccountID string

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Budget <= 0 {
		o.Budget = DefaultBudget
	}
	if o.PageDelay < 0 {
		o.PageDelay = 0
	}
	if o.Lease <= 0 {
		o.Lease = DefaultLease
	}
	if o.Retry.MaxRetries == 0 && o.Retry.InitialDelay == 0 {
		o.Retry = DefaultRetryConfig
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Params are the caller-supplied inputs of one run.
type Params struct {
	Months      int            `json:"months"`
	ForceUpdate bool           `json:"force_update"`
	Actor       *auth.Identity `json:"-"`
}

// Summary is the outcome of one run.
type Summary struct {
	Success           bool       `json:"success"`
	RunID             string     `json:"runId"`
	Total             int        `json:"total"`
	Created           int        `json:"created"`
	Updated           int        `json:"updated"`
	Skipped           int        `json:"skipped"`
	ErrorCount        int        `json:"errorCount"`
	ErrorSamples      []string   `json:"errorSamples"`
	WindowStart       civil.Date `json:"windowStart"`
	WindowEnd         civil.Date `json:"windowEnd"`
	BatchesProcessed  int        `json:"batchesProcessed"`
	Partial           bool       `json:"partial"`
	Throttled         bool       `json:"throttled"`
	Cancelled         bool       `json:"cancelled"`
	ResumedFromOffset int        `json:"resumedFromOffset"`
	NextOffset        int        `json:"nextOffset"`
	DurationMs        int64      `json:"durationMs"`
	Message           string     `json:"message"`
}

type stopReason int

const (
	stopExhausted stopReason = iota
	stopBudget
	stopThrottled
	stopCancelled
	stopPageCap
	stopFatal
)

// Syncer imports ADVBox financial transactions into the local ledger.
type Syncer struct {
	source   TransactionSource
	store    Store
	archiver Archiver
	registry *Registry
	opts     Options
}

// NewSyncer creates a Syncer. A nil source means no upstream credential is
// configured; every run then fails with ErrMissingCredential.
func NewSyncer(source TransactionSource, st Store, opts Options) *Syncer {
	return &Syncer{
		source:   source,
		store:    st,
		registry: NewRegistry(),
		opts:     opts.withDefaults(),
	}
}

// WithArchiver enables raw page archival.
func (s *Syncer) WithArchiver(a Archiver) *Syncer {
	s.archiver = a
	return s
}

// Registry exposes the in-flight run registry.
func (s *Syncer) Registry() *Registry {
	return s.registry
}

// Status returns the persisted progress row, defaulting to idle.
func (s *Syncer) Status(ctx context.Context) (*domain.SyncStatus, error) {
	st, err := s.store.GetSyncStatus(ctx, domain.SyncTypeFinancial)
	if err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}
	if st == nil {
		st = &domain.SyncStatus{SyncType: domain.SyncTypeFinancial, Status: domain.SyncIdle}
	}
	return st, nil
}

// Stop cancels the in-flight run, if this process owns one, and marks the
// status row idle. It reports whether a live run was signalled.
func (s *Syncer) Stop(ctx context.Context, actor *auth.Identity) (bool, error) {
	if err := auth.Require(actor, auth.FeatureFinancial, auth.LevelEdit); err != nil {
		return false, err
	}

	runID, signalled := s.registry.Cancel(domain.SyncTypeFinancial)

	st, err := s.store.GetSyncStatus(ctx, domain.SyncTypeFinancial)
	if err != nil {
		return signalled, fmt.Errorf("Stop: loading status: %w", err)
	}
	if st != nil && st.Status == domain.SyncRunning {
		st.Status = domain.SyncIdle
		st.Partial = st.LastOffset > 0
		st.UpdatedAt = s.opts.Now()
		if err := s.store.SaveSyncStatus(ctx, st); err != nil {
			return signalled, fmt.Errorf("Stop: saving status: %w", err)
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("run_id", runID).
		Bool("signalled", signalled).
		Str("user_id", actor.UserID).
		Msg("Financial sync stop requested")

	return signalled, nil
}

// Run executes one bounded sync invocation. Authorization, credential and
// single-flight failures return before any state is written. A run that
// fails mid-way still returns its partial summary alongside the error.
func (s *Syncer) Run(ctx context.Context, p Params) (*Summary, error) {
	if err := auth.Require(p.Actor, auth.FeatureFinancial, auth.LevelEdit); err != nil {
		return nil, err
	}
	if s.source == nil {
		return nil, ErrMissingCredential
	}

	months := p.Months
	if months <= 0 {
		months = DefaultMonths
	}

	started := s.opts.Now()
	r := &run{
		s:       s,
		id:      uuid.NewString(),
		months:  months,
		force:   p.ForceUpdate,
		actor:   p.Actor.UserID,
		started: started,
		summary: &Summary{ErrorSamples: []string{}},
	}
	ctx = logger.WithRun(ctx, string(domain.SyncTypeFinancial), r.id)
	log := logger.FromContext(ctx)

	prev, err := s.store.GetSyncStatus(ctx, domain.SyncTypeFinancial)
	if err != nil {
		return nil, fmt.Errorf("Run: loading sync status: %w", err)
	}

	windowEnd := civil.DateOf(started)
	windowStart := civil.DateOf(started.AddDate(0, -months, 0))
	offset := 0
	r.status = &domain.SyncStatus{
		SyncType:    domain.SyncTypeFinancial,
		Status:      domain.SyncRunning,
		RunID:       r.id,
		Months:      months,
		ForceUpdate: p.ForceUpdate,
		StartedBy:   r.actor,
		StartedAt:   &started,
		UpdatedAt:   started,
	}
	if prev.Resumable(months, p.ForceUpdate) {
		windowStart, windowEnd = prev.WindowStart, prev.WindowEnd
		offset = prev.LastOffset
		r.status.TotalProcessed = prev.TotalProcessed
		r.status.TotalCreated = prev.TotalCreated
		r.status.TotalUpdated = prev.TotalUpdated
		r.status.TotalSkipped = prev.TotalSkipped
		r.status.ErrorCount = prev.ErrorCount
	}
	r.status.WindowStart, r.status.WindowEnd = windowStart, windowEnd
	r.status.LastOffset = offset
	r.summary.RunID = r.id
	r.summary.WindowStart, r.summary.WindowEnd = windowStart, windowEnd
	r.summary.ResumedFromOffset = offset

	if err := s.store.AcquireSyncStatus(ctx, r.status, s.opts.Lease); err != nil {
		if errors.Is(err, store.ErrSyncInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("Run: acquiring sync status: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.registry.register(domain.SyncTypeFinancial, r.id, cancel)
	defer s.registry.unregister(domain.SyncTypeFinancial, r.id)

	// Bookkeeping must survive a stop request or a dropped client.
	writeCtx := context.WithoutCancel(ctx)

	log.Info().
		Int("months", months).
		Bool("force_update", p.ForceUpdate).
		Str("window_start", windowStart.String()).
		Str("window_end", windowEnd.String()).
		Int("offset", offset).
		Msg("Starting ADVBox financial sync")

	if err := r.prepare(writeCtx); err != nil {
		return r.finish(writeCtx, stopFatal, offset, err)
	}

	reason, offset, fatal := r.loop(runCtx, writeCtx, offset)
	return r.finish(writeCtx, reason, offset, fatal)
}

// run holds the state of a single invocation.
type run struct {
	s       *Syncer
	id      string
	months  int
	force   bool
	actor   string
	started time.Time
	status  *domain.SyncStatus
	summary *Summary
	ec      entryContext
}

type pageStats struct {
	fetched, created, updated, skipped, errors int
}

// staged is an entry waiting to be written.
type staged struct {
	entry  *domain.Entry
	exists bool
}

// prepare loads categories and the default account once per run.
func (r *run) prepare(ctx context.Context) error {
	categories, err := r.s.store.ListActiveCategories(ctx)
	if err != nil {
		return fmt.Errorf("prepare: loading categories: %w", err)
	}

	accountID := r.s.opts.DefaultAccountID
	if accountID == "" {
		accounts, err := r.s.store.ListActiveAccounts(ctx)
		if err != nil {
			return fmt.Errorf("prepare: loading accounts: %w", err)
		}
		if len(accounts) > 0 {
			accountID = accounts[0].ID
		}
	}

	r.ec = entryContext{
		categories: newCategoryIndex(categories),
		accountID:  domain.StringPtr(accountID),
		actor:      r.actor,
		now:        r.started,
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Int("categories", len(categories)).
		Str("account_id", accountID).
		Msg("Loaded ledger reference data")
	return nil
}

func (r *run) loop(runCtx, writeCtx context.Context, offset int) (stopReason, int, error) {
	opts := r.s.opts
	log := logger.FromContext(writeCtx)

	budgetCtx, cancelBudget := context.WithTimeout(runCtx, opts.Budget)
	defer cancelBudget()

	limit := rate.Inf
	if opts.PageDelay > 0 {
		limit = rate.Every(opts.PageDelay)
	}
	pacer := rate.NewLimiter(limit, 1)

	interrupted := func() stopReason {
		if runCtx.Err() != nil {
			return stopCancelled
		}
		return stopBudget
	}

	for {
		if r.summary.BatchesProcessed >= opts.MaxPages {
			log.Warn().Int("max_pages", opts.MaxPages).Msg("Page limit reached")
			return stopPageCap, offset, nil
		}
		if runCtx.Err() != nil {
			return stopCancelled, offset, nil
		}
		if opts.Now().Sub(r.started) >= opts.Budget {
			return stopBudget, offset, nil
		}

		if err := pacer.Wait(budgetCtx); err != nil {
			return interrupted(), offset, nil
		}

		req := PageRequest{
			Offset: offset,
			Limit:  opts.PageSize,
			Start:  r.status.WindowStart,
			End:    r.status.WindowEnd,
		}
		page, err := fetchWithRetry(budgetCtx, opts.Retry, req, r.s.source.FetchPage)
		if err != nil {
			switch {
			case errors.Is(err, ErrUpstreamUnauthorized):
				return stopFatal, offset, err
			case errors.Is(err, ErrThrottled):
				r.summary.Throttled = true
				r.recordError(fmt.Sprintf("page at offset %d: %v", offset, err))
				return stopThrottled, offset, nil
			case budgetCtx.Err() != nil:
				return interrupted(), offset, nil
			}

			// Best effort: a bad page is skipped, not retried.
			log.Warn().Err(err).Int("offset", offset).Msg("Failed to fetch ADVBox page, skipping")
			r.recordError(fmt.Sprintf("page at offset %d: %v", offset, err))
			r.summary.BatchesProcessed++
			offset += opts.PageSize
			r.saveProgress(writeCtx, req.Offset, offset, pageStats{errors: 1})
			continue
		}

		r.summary.BatchesProcessed++
		r.archive(writeCtx, offset, page)

		if len(page.Records) == 0 {
			return stopExhausted, offset, nil
		}

		stats := r.processPage(writeCtx, page)
		next := offset + opts.PageSize
		r.saveProgress(writeCtx, offset, next, stats)

		log.Info().
			Int("offset", offset).
			Int("fetched", stats.fetched).
			Int("created", stats.created).
			Int("updated", stats.updated).
			Int("skipped", stats.skipped).
			Int("errors", stats.errors).
			Msg("Processed ADVBox page")

		offset = next
		if !page.HasMore(offset, opts.PageSize) {
			return stopExhausted, offset, nil
		}
	}
}

// processPage validates, maps and writes one page of records.
func (r *run) processPage(ctx context.Context, page *Page) pageStats {
	var stats pageStats
	var writes []staged

	for i, raw := range page.Records {
		stats.fetched++

		tx, err := ParseTransaction(raw)
		if errors.Is(err, ErrNoExternalID) {
			stats.skipped++
			continue
		}
		if err != nil {
			stats.errors++
			r.recordError(fmt.Sprintf("record #%d: %v", i, err))
			continue
		}

		existing, err := r.s.store.FindEntryByExternalID(ctx, tx.ExternalID)
		if err != nil {
			stats.errors++
			r.recordError(fmt.Sprintf("record %s: lookup: %v", tx.ExternalID, err))
			continue
		}
		if existing != nil && !r.force {
			stats.skipped++
			continue
		}

		entry, err := buildEntry(tx, existing, r.ec)
		if err != nil {
			stats.errors++
			r.recordError(fmt.Sprintf("record %s: %v", tx.ExternalID, err))
			continue
		}
		writes = append(writes, staged{entry: entry, exists: existing != nil})
	}

	// One write per entry so a single bad row cannot sink the page.
	for _, w := range writes {
		r.apply(ctx, w, &stats)
	}

	r.summary.Total += stats.fetched
	r.summary.Created += stats.created
	r.summary.Updated += stats.updated
	r.summary.Skipped += stats.skipped
	return stats
}

func (r *run) apply(ctx context.Context, w staged, stats *pageStats) {
	st := r.s.store

	if w.exists {
		if err := st.UpdateEntryByExternalID(ctx, w.entry); err != nil {
			stats.errors++
			r.recordError(fmt.Sprintf("record %s: update: %v", w.entry.ExternalID, err))
			return
		}
		stats.updated++
		return
	}

	err := st.InsertEntry(ctx, w.entry)
	switch {
	case err == nil:
		stats.created++
	case errors.Is(err, store.ErrDuplicateExternalID):
		// Someone else inserted it first: another run, or an earlier
		// record of this page.
		if !r.force {
			stats.skipped++
			return
		}
		if err := st.UpdateEntryByExternalID(ctx, w.entry); err != nil {
			stats.errors++
			r.recordError(fmt.Sprintf("record %s: update after conflict: %v", w.entry.ExternalID, err))
			return
		}
		stats.updated++
	default:
		stats.errors++
		r.recordError(fmt.Sprintf("record %s: insert: %v", w.entry.ExternalID, err))
	}
}

func (r *run) recordError(msg string) {
	r.summary.ErrorCount++
	if len(r.summary.ErrorSamples) < maxErrorSamples {
		r.summary.ErrorSamples = append(r.summary.ErrorSamples, msg)
	}
}

// saveProgress appends a page snapshot and refreshes the status row.
// Failures are logged; progress bookkeeping never aborts a run.
func (r *run) saveProgress(ctx context.Context, pageOffset, nextOffset int, stats pageStats) {
	log := logger.FromContext(ctx)
	now := r.s.opts.Now()

	snap := &domain.SyncSnapshot{
		RunID:     r.id,
		SyncType:  domain.SyncTypeFinancial,
		Offset:    pageOffset,
		Fetched:   stats.fetched,
		Created:   stats.created,
		Updated:   stats.updated,
		Skipped:   stats.skipped,
		Errors:    stats.errors,
		CreatedAt: now,
	}
	if err := r.s.store.InsertSyncSnapshot(ctx, snap); err != nil {
		log.Warn().Err(err).Int("offset", pageOffset).Msg("Failed to write sync snapshot")
	}

	r.status.LastOffset = nextOffset
	r.status.TotalProcessed += stats.fetched
	r.status.TotalCreated += stats.created
	r.status.TotalUpdated += stats.updated
	r.status.TotalSkipped += stats.skipped
	r.status.ErrorCount += stats.errors
	r.status.UpdatedAt = now
	if err := r.s.store.SaveSyncStatus(ctx, r.status); err != nil {
		log.Warn().Err(err).Msg("Failed to update sync status")
	}
}

func (r *run) archive(ctx context.Context, offset int, page *Page) {
	if r.s.archiver == nil || len(page.Body) == 0 {
		return
	}
	if err := r.s.archiver.ArchivePage(ctx, r.id, offset, page.Body); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Int("offset", offset).Msg("Failed to archive ADVBox page")
	}
}

// finish writes the terminal status and the audit row, then shapes the
// summary for the caller.
func (r *run) finish(ctx context.Context, reason stopReason, offset int, fatal error) (*Summary, error) {
	log := logger.FromContext(ctx)
	now := r.s.opts.Now()
	sum := r.summary

	sum.NextOffset = offset
	sum.DurationMs = now.Sub(r.started).Milliseconds()
	sum.Partial = reason != stopExhausted && reason != stopFatal
	sum.Cancelled = reason == stopCancelled
	sum.Success = fatal == nil

	switch reason {
	case stopExhausted:
		sum.Message = fmt.Sprintf("Sync complete: %d created, %d updated, %d skipped, %d errors",
			sum.Created, sum.Updated, sum.Skipped, sum.ErrorCount)
	case stopBudget:
		sum.Message = fmt.Sprintf("Partial sync: time budget reached after %d pages. Invoke the sync again to continue from offset %d.",
			sum.BatchesProcessed, offset)
	case stopThrottled:
		sum.Message = fmt.Sprintf("Partial sync: ADVBox is rate limiting requests. Invoke the sync again later to continue from offset %d.", offset)
	case stopCancelled:
		sum.Message = fmt.Sprintf("Sync stopped at offset %d. Invoke the sync again to continue.", offset)
	case stopPageCap:
		sum.Message = fmt.Sprintf("Partial sync: page limit of %d reached. Invoke the sync again to continue from offset %d.",
			r.s.opts.MaxPages, offset)
	case stopFatal:
		sum.Message = fmt.Sprintf("Sync failed: %v", fatal)
	}

	st := r.status
	st.LastOffset = offset
	st.UpdatedAt = now
	st.FinishedAt = &now
	switch {
	case fatal != nil:
		st.Status = domain.SyncError
		st.LastError = fatal.Error()
		st.Partial = offset > 0
	case sum.Partial:
		st.Status = domain.SyncIdle
		st.Partial = true
		st.LastError = ""
	default:
		st.Status = domain.SyncCompleted
		st.Partial = false
		st.LastOffset = 0
		st.LastError = ""
	}
	if err := r.s.store.SaveSyncStatus(ctx, st); err != nil {
		log.Error().Err(err).Msg("Failed to write final sync status")
	}

	details, _ := json.Marshal(map[string]interface{}{
		"run_id":     r.id,
		"months":     r.months,
		"force":      r.force,
		"total":      sum.Total,
		"created":    sum.Created,
		"updated":    sum.Updated,
		"skipped":    sum.Skipped,
		"errorCount": sum.ErrorCount,
		"partial":    sum.Partial,
		"throttled":  sum.Throttled,
		"cancelled":  sum.Cancelled,
		"failed":     fatal != nil,
	})
	audit := &domain.AuditLog{
		Action:    auditAction,
		Entity:    auditEntity,
		UserID:    r.actor,
		Details:   details,
		CreatedAt: now,
	}
	if err := r.s.store.InsertAuditLog(ctx, audit); err != nil {
		log.Error().Err(err).Msg("Failed to write sync audit log")
	}

	event := log.Info()
	if fatal != nil {
		event = log.Error().Err(fatal)
	}
	event.
		Int("total", sum.Total).
		Int("created", sum.Created).
		Int("updated", sum.Updated).
		Int("skipped", sum.Skipped).
		Int("errors", sum.ErrorCount).
		Int("batches", sum.BatchesProcessed).
		Bool("partial", sum.Partial).
		Int64("duration_ms", sum.DurationMs).
		Msg("ADVBox financial sync finished")

	if fatal != nil {
		return sum, fmt.Errorf("Run: %w", fatal)
	}
	return sum, nil
}
