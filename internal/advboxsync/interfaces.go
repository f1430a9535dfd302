package advboxsync

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/intranet-sync/internal/store"
)

// PageRequest selects one page of transactions due within [Start, End].
type PageRequest struct {
	Offset int
	Limit  int
	Start  civil.Date
	End    civil.Date
}

// Page is one decoded upstream page. Records are kept raw so each one can
// be validated on its own.
type Page struct {
	Records []json.RawMessage
	// Total is the upstream total count, or -1 when not reported.
	Total int
	// Body is the undecoded response, kept for archival.
	Body []byte
}

// HasMore reports whether another page is expected after nextOffset.
func (p *Page) HasMore(nextOffset, pageSize int) bool {
	if p.Total >= 0 {
		return nextOffset < p.Total
	}
	return len(p.Records) >= pageSize
}

// TransactionSource provides paginated access to ADVBox transactions.
// This interface enables faking the upstream in tests.
type TransactionSource interface {
	// FetchPage returns one page. It fails with ErrUpstreamUnauthorized on
	// 401 and with *HTTPError on any other non-2xx status.
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// Archiver keeps a copy of raw upstream pages for later inspection.
type Archiver interface {
	ArchivePage(ctx context.Context, runID string, offset int, body []byte) error
}

// Store is the subset of persistence the sync job needs.
type Store interface {
	store.LedgerRepository
	store.SyncStatusRepository
	store.AuditRepository
}
