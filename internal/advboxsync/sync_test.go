package advboxsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/intranet-sync/internal/auth"
	"github.com/dvloznov/intranet-sync/internal/domain"
	"github.com/dvloznov/intranet-sync/internal/logger"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/dvloznov/intranet-sync/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSource serves records from memory. Errors in failAt are returned for
// every request at that offset.
type fakeSource struct {
	mu         sync.Mutex
	records    []map[string]interface{}
	knownTotal bool
	failAt     map[int]error
	onFetch    func(req PageRequest)
	calls      []PageRequest
}

func (f *fakeSource) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	hook := f.onFetch
	err := f.failAt[req.Offset]
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	page := &Page{Total: -1, Records: []json.RawMessage{}}
	if f.knownTotal {
		page.Total = len(f.records)
	}
	for i := req.Offset; i < len(f.records) && i < req.Offset+req.Limit; i++ {
		raw, _ := json.Marshal(f.records[i])
		page.Records = append(page.Records, raw)
	}
	page.Body, _ = json.Marshal(page.Records)
	return page, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeArchiver struct {
	mu      sync.Mutex
	offsets []int
}

func (a *fakeArchiver) ArchivePage(ctx context.Context, runID string, offset int, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offsets = append(a.offsets, offset)
	return nil
}

func genRecords(n int) []map[string]interface{} {
	out := make([]map[string]interface{}, n)
	for i := range out {
		out[i] = map[string]interface{}{
			"id":       i + 1,
			"amount":   fmt.Sprintf("%d.50", 100+i),
			"date_due": "2026-02-10",
			"category": "Honorários",
		}
	}
	return out
}

func testCtx() context.Context {
	return logger.WithContext(context.Background(), logger.Nop())
}

func newTestSyncer(src TransactionSource, st Store, clock *fakeClock, mutate ...func(*Options)) *Syncer {
	opts := Options{
		PageSize:  50,
		PageDelay: 0,
		Now:       clock.Now,
		Retry: RetryConfig{
			MaxRetries:    2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewSyncer(src, st, opts)
}

func seededStore() *memory.Store {
	st := memory.New()
	st.SeedCategory(domain.Category{ID: "cat-fees", Name: "Honorários", Kind: domain.KindIncome, Active: true})
	st.SeedCategory(domain.Category{ID: "cat-other-in", Name: "Outras receitas", Kind: domain.KindIncome, Active: true})
	st.SeedCategory(domain.Category{ID: "cat-costs", Name: "Custas", Kind: domain.KindExpense, Active: true})
	st.SeedAccount(domain.Account{ID: "acc-main", Name: "Main", Active: true, CreatedAt: t0.Add(-48 * time.Hour)})
	st.SeedAccount(domain.Account{ID: "acc-second", Name: "Second", Active: true, CreatedAt: t0.Add(-24 * time.Hour)})
	return st
}

func admin() Params {
	return Params{Actor: auth.System()}
}

func TestRun_ImportsAcrossPagesAndIsIdempotent(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	src := &fakeSource{records: genRecords(112)}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0})

	sum, err := syncer.Run(ctx, admin())
	require.NoError(t, err)

	assert.True(t, sum.Success)
	assert.Equal(t, 112, sum.Total)
	assert.Equal(t, 112, sum.Created)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, 3, sum.BatchesProcessed)
	assert.False(t, sum.Partial)
	assert.Equal(t, "Sync complete: 112 created, 0 updated, 0 skipped, 0 errors", sum.Message)
	assert.Len(t, st.Entries(), 112)

	status, err := syncer.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncCompleted, status.Status)
	assert.Equal(t, 0, status.LastOffset)
	assert.False(t, status.Partial)

	again, err := syncer.Run(ctx, admin())
	require.NoError(t, err)
	assert.Equal(t, 112, again.Total)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 112, again.Skipped)
	assert.Len(t, st.Entries(), 112)

	assert.Len(t, st.AuditLogs(), 2)
	assert.Equal(t, auditAction, st.AuditLogs()[0].Action)
}

func TestRun_WindowAndRequests(t *testing.T) {
	ctx := testCtx()
	src := &fakeSource{records: genRecords(3)}
	syncer := newTestSyncer(src, seededStore(), &fakeClock{now: t0})

	sum, err := syncer.Run(ctx, Params{Months: 3, Actor: auth.System()})
	require.NoError(t, err)

	assert.Equal(t, "2025-12-15", sum.WindowStart.String())
	assert.Equal(t, "2026-03-15", sum.WindowEnd.String())
	require.Equal(t, 1, src.callCount())
	assert.Equal(t, PageRequest{Offset: 0, Limit: 50, Start: sum.WindowStart, End: sum.WindowEnd}, src.calls[0])
}

func TestRun_DefaultsToTwelveMonths(t *testing.T) {
	src := &fakeSource{records: genRecords(1)}
	syncer := newTestSyncer(src, seededStore(), &fakeClock{now: t0})

	sum, err := syncer.Run(testCtx(), admin())
	require.NoError(t, err)
	assert.Equal(t, "2025-03-15", sum.WindowStart.String())
}

func TestRun_MapsRecords(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	src := &fakeSource{records: []map[string]interface{}{
		{"id": 10, "amount": 1500.25, "date_due": "2026-02-01", "category": "honorários", "status": "paid", "date_payment": "2026-02-03"},
		{"identification": "ext-20", "value": "-320,10", "date_due": "2026-02-05", "category": "Unknown"},
		{"amount": 10, "date_due": "2026-02-05"},
		{"id": 30, "amount": 50, "date_due": "2026-02-06", "category": "Nowhere"},
		{"id": 40, "date_due": "2026-02-06"},
	}}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0})

	sum, err := syncer.Run(ctx, admin())
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 3, sum.Created)
	assert.Equal(t, 1, sum.Skipped, "record without identifier")
	assert.Equal(t, 1, sum.ErrorCount, "record without amount")
	require.Len(t, sum.ErrorSamples, 1)
	assert.Contains(t, sum.ErrorSamples[0], "amount")

	entries := map[string]domain.Entry{}
	for _, e := range st.Entries() {
		entries[e.ExternalID] = e
	}

	income := entries["10"]
	assert.Equal(t, domain.KindIncome, income.Kind)
	assert.True(t, decimal.RequireFromString("1500.25").Equal(income.Amount))
	assert.Equal(t, domain.StatusPaid, income.Status)
	require.NotNil(t, income.CategoryID)
	assert.Equal(t, "cat-fees", *income.CategoryID)
	require.NotNil(t, income.AccountID)
	assert.Equal(t, "acc-main", *income.AccountID)
	assert.Equal(t, domain.SourceADVBox, income.Source)
	assert.Equal(t, "system", income.CreatedBy)

	expense := entries["ext-20"]
	assert.Equal(t, domain.KindExpense, expense.Kind)
	assert.True(t, decimal.RequireFromString("320.10").Equal(expense.Amount))
	assert.Equal(t, domain.StatusPending, expense.Status)
	require.NotNil(t, expense.CategoryID)
	assert.Equal(t, "cat-costs", *expense.CategoryID, "unknown names fall back to the first category of the kind")

	fallback := entries["30"]
	require.NotNil(t, fallback.CategoryID)
	assert.Equal(t, "cat-fees", *fallback.CategoryID)
}

func TestRun_NullCategoryWhenKindHasNone(t *testing.T) {
	st := memory.New()
	st.SeedCategory(domain.Category{ID: "cat-fees", Name: "Honorários", Kind: domain.KindIncome, Active: true})
	src := &fakeSource{records: []map[string]interface{}{
		{"id": 1, "amount": -5, "date_due": "2026-01-01"},
	}}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0})

	_, err := syncer.Run(testCtx(), admin())
	require.NoError(t, err)

	entries := st.Entries()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].CategoryID)
	assert.Nil(t, entries[0].AccountID)
}

func TestRun_DefaultAccountOverride(t *testing.T) {
	st := seededStore()
	src := &fakeSource{records: genRecords(1)}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0}, func(o *Options) {
		o.DefaultAccountID = "acc-second"
	})

	_, err := syncer.Run(testCtx(), admin())
	require.NoError(t, err)
	require.NotNil(t, st.Entries()[0].AccountID)
	assert.Equal(t, "acc-second", *st.Entries()[0].AccountID)
}

func TestRun_ForceUpdatePreservesIdentity(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	clock := &fakeClock{now: t0}
	src := &fakeSource{records: genRecords(2)}
	syncer := newTestSyncer(src, st, clock)

	_, err := syncer.Run(ctx, admin())
	require.NoError(t, err)
	before, err := st.FindEntryByExternalID(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, before)

	src.records[0]["amount"] = "999.99"
	clock.Advance(time.Hour)

	sum, err := syncer.Run(ctx, Params{ForceUpdate: true, Actor: &auth.Identity{
		UserID:      "user-2",
		Permissions: map[string]auth.Level{auth.FeatureFinancial: auth.LevelEdit},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Updated)
	assert.Equal(t, 0, sum.Created)
	assert.Len(t, st.Entries(), 2)

	after, err := st.FindEntryByExternalID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, "system", after.CreatedBy)
	assert.Equal(t, "user-2", after.UpdatedBy)
	assert.True(t, decimal.RequireFromString("999.99").Equal(after.Amount))
}

func TestRun_SkipsFailedPageAndContinues(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	src := &fakeSource{
		records:    genRecords(150),
		knownTotal: true,
		failAt:     map[int]error{50: &HTTPError{StatusCode: http.StatusInternalServerError, Body: "boom"}},
	}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0})

	sum, err := syncer.Run(ctx, admin())
	require.NoError(t, err)

	assert.True(t, sum.Success)
	assert.False(t, sum.Partial)
	assert.Equal(t, 100, sum.Created)
	assert.Equal(t, 1, sum.ErrorCount)
	assert.Equal(t, 3, sum.BatchesProcessed)
	assert.Equal(t, 150, sum.NextOffset)
	assert.Len(t, st.Entries(), 100)

	snaps := st.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, 50, snaps[1].Offset)
	assert.Equal(t, 1, snaps[1].Errors)
	assert.Equal(t, 0, snaps[1].Fetched)
}

func TestRun_ThrottledIsPartial(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	src := &fakeSource{
		records:    genRecords(100),
		knownTotal: true,
		failAt:     map[int]error{50: &HTTPError{StatusCode: http.StatusTooManyRequests}},
	}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0})

	sum, err := syncer.Run(ctx, admin())
	require.NoError(t, err)

	assert.True(t, sum.Throttled)
	assert.True(t, sum.Partial)
	assert.Equal(t, 50, sum.NextOffset)
	assert.Equal(t, 50, sum.Created)
	assert.Equal(t, 4, src.callCount(), "one page plus three attempts at the throttled page")
	assert.Contains(t, sum.Message, "rate limiting")

	status, err := syncer.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncIdle, status.Status)
	assert.True(t, status.Partial)
	assert.Equal(t, 50, status.LastOffset)
}

func TestRun_UpstreamUnauthorizedFails(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	src := &fakeSource{failAt: map[int]error{0: ErrUpstreamUnauthorized}}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0})

	sum, err := syncer.Run(ctx, admin())
	require.ErrorIs(t, err, ErrUpstreamUnauthorized)
	require.NotNil(t, sum)
	assert.False(t, sum.Success)

	status, err := syncer.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncError, status.Status)
	assert.NotEmpty(t, status.LastError)
	assert.Len(t, st.AuditLogs(), 1)
}

func TestRun_RejectsBeforeWritingState(t *testing.T) {
	ctx := testCtx()

	t.Run("missing credential", func(t *testing.T) {
		st := seededStore()
		syncer := NewSyncer(nil, st, Options{})
		_, err := syncer.Run(ctx, admin())
		require.ErrorIs(t, err, ErrMissingCredential)

		status, err := st.GetSyncStatus(ctx, domain.SyncTypeFinancial)
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("anonymous", func(t *testing.T) {
		syncer := newTestSyncer(&fakeSource{}, seededStore(), &fakeClock{now: t0})
		_, err := syncer.Run(ctx, Params{})
		require.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("view only", func(t *testing.T) {
		st := seededStore()
		syncer := newTestSyncer(&fakeSource{}, st, &fakeClock{now: t0})
		_, err := syncer.Run(ctx, Params{Actor: &auth.Identity{
			UserID:      "viewer",
			Permissions: map[string]auth.Level{auth.FeatureFinancial: auth.LevelView},
		}})
		require.ErrorIs(t, err, auth.ErrForbidden)
		assert.Empty(t, st.AuditLogs())
	})
}

func TestRun_SingleFlight(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	require.NoError(t, st.SaveSyncStatus(ctx, &domain.SyncStatus{
		SyncType:  domain.SyncTypeFinancial,
		Status:    domain.SyncRunning,
		RunID:     "other-run",
		UpdatedAt: time.Now(),
	}))

	src := &fakeSource{records: genRecords(1)}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0})

	_, err := syncer.Run(ctx, admin())
	require.ErrorIs(t, err, store.ErrSyncInProgress)
	assert.Equal(t, 0, src.callCount())

	// A running row older than the lease is taken over.
	st.SetClock(func() time.Time { return time.Now().Add(10 * time.Minute) })
	sum, err := syncer.Run(ctx, admin())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Created)
}

func TestRun_TimeBudgetThenResume(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	clock := &fakeClock{now: t0}
	src := &fakeSource{records: genRecords(400), knownTotal: true}
	src.onFetch = func(PageRequest) { clock.Advance(20 * time.Second) }
	syncer := newTestSyncer(src, st, clock)

	first, err := syncer.Run(ctx, admin())
	require.NoError(t, err)
	assert.True(t, first.Partial)
	assert.Equal(t, 3, first.BatchesProcessed)
	assert.Equal(t, 150, first.NextOffset)
	assert.Equal(t, 150, first.Created)
	assert.Contains(t, first.Message, "offset 150")

	status, err := syncer.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncIdle, status.Status)
	assert.True(t, status.Partial)
	assert.Equal(t, 150, status.LastOffset)

	src.mu.Lock()
	src.onFetch = nil
	src.mu.Unlock()

	second, err := syncer.Run(ctx, admin())
	require.NoError(t, err)
	assert.False(t, second.Partial)
	assert.Equal(t, 150, second.ResumedFromOffset)
	assert.Equal(t, first.WindowStart, second.WindowStart)
	assert.Equal(t, 250, second.Created)
	assert.Len(t, st.Entries(), 400)

	status, err = syncer.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncCompleted, status.Status)
	assert.Equal(t, 400, status.TotalCreated)
}

func TestRun_DifferentParamsStartOver(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	require.NoError(t, st.SaveSyncStatus(ctx, &domain.SyncStatus{
		SyncType:   domain.SyncTypeFinancial,
		Status:     domain.SyncIdle,
		Partial:    true,
		LastOffset: 100,
		Months:     6,
	}))
	syncer := newTestSyncer(&fakeSource{records: genRecords(10)}, st, &fakeClock{now: t0})

	sum, err := syncer.Run(ctx, admin())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.ResumedFromOffset)
	assert.Equal(t, 10, sum.Created)
}

func TestRun_PageCap(t *testing.T) {
	src := &fakeSource{records: genRecords(200), knownTotal: true}
	syncer := newTestSyncer(src, seededStore(), &fakeClock{now: t0}, func(o *Options) {
		o.MaxPages = 2
	})

	sum, err := syncer.Run(testCtx(), admin())
	require.NoError(t, err)
	assert.True(t, sum.Partial)
	assert.Equal(t, 100, sum.NextOffset)
	assert.Contains(t, sum.Message, "page limit of 2")
}

func TestRun_StopCancelsInFlightRun(t *testing.T) {
	ctx := testCtx()
	st := seededStore()
	src := &fakeSource{records: genRecords(300), knownTotal: true}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0})

	var stopped bool
	var stopErr error
	src.onFetch = func(req PageRequest) {
		if req.Offset == 50 {
			stopped, stopErr = syncer.Stop(ctx, auth.System())
		}
	}

	sum, err := syncer.Run(ctx, admin())
	require.NoError(t, err)
	require.NoError(t, stopErr)
	assert.True(t, stopped)

	assert.True(t, sum.Cancelled)
	assert.True(t, sum.Partial)
	assert.Equal(t, 100, sum.NextOffset)
	assert.Equal(t, 100, sum.Created)

	_, active := syncer.Registry().Active(domain.SyncTypeFinancial)
	assert.False(t, active)

	status, err := syncer.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncIdle, status.Status)
	assert.Equal(t, 100, status.LastOffset)
}

func TestStop_NothingRunning(t *testing.T) {
	syncer := newTestSyncer(&fakeSource{}, seededStore(), &fakeClock{now: t0})

	stopped, err := syncer.Stop(testCtx(), auth.System())
	require.NoError(t, err)
	assert.False(t, stopped)

	_, err = syncer.Stop(testCtx(), nil)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestStatus_DefaultsToIdle(t *testing.T) {
	syncer := newTestSyncer(&fakeSource{}, memory.New(), &fakeClock{now: t0})

	status, err := syncer.Status(testCtx())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncIdle, status.Status)
	assert.Equal(t, domain.SyncTypeFinancial, status.SyncType)
}

func TestRun_ArchivesPagesAndSnapshots(t *testing.T) {
	st := seededStore()
	arch := &fakeArchiver{}
	src := &fakeSource{records: genRecords(60), knownTotal: true}
	syncer := newTestSyncer(src, st, &fakeClock{now: t0}).WithArchiver(arch)

	sum, err := syncer.Run(testCtx(), admin())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 50}, arch.offsets)

	snaps := st.Snapshots()
	require.Len(t, snaps, 2)
	for _, s := range snaps {
		assert.Equal(t, sum.RunID, s.RunID)
	}
	assert.Equal(t, 50, snaps[0].Created)
	assert.Equal(t, 10, snaps[1].Created)
}

// insertRecorder remembers the entry id assigned by each successful insert.
type insertRecorder struct {
	*memory.Store
	mu       sync.Mutex
	inserted map[string]string
}

func newInsertRecorder() *insertRecorder {
	return &insertRecorder{Store: seededStore(), inserted: make(map[string]string)}
}

func (s *insertRecorder) InsertEntry(ctx context.Context, entry *domain.Entry) error {
	if err := s.Store.InsertEntry(ctx, entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted[entry.ExternalID] = entry.ID
	return nil
}

func repeatedRecord(id, amount string) map[string]interface{} {
	return map[string]interface{}{"id": id, "amount": amount, "date_due": "2026-02-10"}
}

func TestRun_DuplicateIDsWithinPage(t *testing.T) {
	records := []map[string]interface{}{
		repeatedRecord("1", "10"),
		repeatedRecord("1", "20"),
		repeatedRecord("1", "30"),
	}

	tests := []struct {
		name       string
		force      bool
		created    int
		updated    int
		skipped    int
		wantAmount string
	}{
		{"first write wins without force", false, 1, 0, 2, "10"},
		{"conflicts update under force", true, 1, 2, 0, "30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testCtx()
			st := newInsertRecorder()
			syncer := newTestSyncer(&fakeSource{records: records}, st, &fakeClock{now: t0})

			sum, err := syncer.Run(ctx, Params{ForceUpdate: tt.force, Actor: auth.System()})
			require.NoError(t, err)

			assert.Equal(t, 3, sum.Total)
			assert.Equal(t, tt.created, sum.Created)
			assert.Equal(t, tt.updated, sum.Updated)
			assert.Equal(t, tt.skipped, sum.Skipped)
			assert.Zero(t, sum.ErrorCount)

			entries := st.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, st.inserted["1"], entries[0].ID)
			assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(entries[0].Amount), "amount %s", entries[0].Amount)
		})
	}
}

func TestRun_DuplicateIDsAcrossPages(t *testing.T) {
	records := genRecords(50)
	records = append(records, repeatedRecord("1", "999"))

	tests := []struct {
		name       string
		force      bool
		updated    int
		skipped    int
		wantAmount string
	}{
		{"later page skipped without force", false, 0, 1, "100.50"},
		{"later page updates under force", true, 1, 0, "999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testCtx()
			st := newInsertRecorder()
			syncer := newTestSyncer(&fakeSource{records: records}, st, &fakeClock{now: t0})

			sum, err := syncer.Run(ctx, Params{ForceUpdate: tt.force, Actor: auth.System()})
			require.NoError(t, err)

			assert.Equal(t, 2, sum.BatchesProcessed)
			assert.Equal(t, 50, sum.Created)
			assert.Equal(t, tt.updated, sum.Updated)
			assert.Equal(t, tt.skipped, sum.Skipped)
			assert.Len(t, st.Entries(), 50)

			entry, err := st.FindEntryByExternalID(ctx, "1")
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, st.inserted["1"], entry.ID)
			assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(entry.Amount), "amount %s", entry.Amount)
		})
	}
}
