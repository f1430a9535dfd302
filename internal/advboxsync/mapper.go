package advboxsync

import (
	"strings"
	"time"

	"github.com/dvloznov/intranet-sync/internal/domain"
)

// categoryIndex resolves ADVBox category names to local category ids.
type categoryIndex struct {
	byName   map[domain.EntryKind]map[string]string
	fallback map[domain.EntryKind]string
}

// newCategoryIndex builds the index from active categories in the order the
// store returned them; the first category of each kind is the fallback.
func newCategoryIndex(categories []domain.Category) *categoryIndex {
	idx := &categoryIndex{
		byName: map[domain.EntryKind]map[string]string{
			domain.KindIncome:  {},
			domain.KindExpense: {},
		},
		fallback: map[domain.EntryKind]string{},
	}
	for _, c := range categories {
		if !c.Active || !c.Kind.Valid() {
			continue
		}
		key := normalizeName(c.Name)
		if _, seen := idx.byName[c.Kind][key]; !seen {
			idx.byName[c.Kind][key] = c.ID
		}
		if _, ok := idx.fallback[c.Kind]; !ok {
			idx.fallback[c.Kind] = c.ID
		}
	}
	return idx
}

// resolve returns the matching category id, the kind's fallback, or nil.
func (idx *categoryIndex) resolve(kind domain.EntryKind, name string) *string {
	if id, ok := idx.byName[kind][normalizeName(name)]; ok && name != "" {
		return &id
	}
	if id, ok := idx.fallback[kind]; ok {
		return &id
	}
	return nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// entryContext carries the per-run values every mapped entry shares.
type entryContext struct {
	categories *categoryIndex
	accountID  *string
	actor      string
	now        time.Time
}

// buildEntry maps a validated transaction onto a ledger entry. When
// existing is non-nil its identity and creation fields are preserved.
func buildEntry(tx Transaction, existing *domain.Entry, ec entryContext) (*domain.Entry, error) {
	kind := domain.KindIncome
	if tx.Amount.IsNegative() {
		kind = domain.KindExpense
	}

	scheduled := tx.DueDate
	if scheduled.IsZero() {
		scheduled = tx.PaidDate
	}
	if scheduled.IsZero() {
		return nil, &RecordError{Field: "date_due", Reason: "no due or payment date"}
	}

	status := domain.StatusPending
	if tx.Paid {
		status = domain.StatusPaid
	}

	entry := &domain.Entry{
		ExternalID:    tx.ExternalID,
		Source:        domain.SourceADVBox,
		Kind:          kind,
		Amount:        tx.Amount.Abs(),
		CategoryID:    ec.categories.resolve(kind, tx.Category),
		AccountID:     ec.accountID,
		ScheduledDate: scheduled,
		DueDate:       domain.DatePtr(tx.DueDate),
		PaidDate:      domain.DatePtr(tx.PaidDate),
		Status:        status,
		Notes:         synthesizeNotes(tx, ec.now),
		CreatedAt:     ec.now,
		UpdatedAt:     ec.now,
		CreatedBy:     ec.actor,
		UpdatedBy:     ec.actor,
	}

	if existing != nil {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
		entry.CreatedBy = existing.CreatedBy
	}

	return entry, nil
}

func synthesizeNotes(tx Transaction, now time.Time) string {
	var parts []string
	if tx.Customer != "" {
		parts = append(parts, "Customer: "+tx.Customer)
	}
	if tx.CaseTitle != "" {
		parts = append(parts, "Case: "+tx.CaseTitle)
	}
	if tx.Notes != "" {
		parts = append(parts, tx.Notes)
	}
	parts = append(parts, "[Imported from ADVBox "+now.UTC().Format("2006-01-02 15:04 MST")+"]")
	return strings.Join(parts, " | ")
}
