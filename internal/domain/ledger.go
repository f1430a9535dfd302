package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// EntryKind is the direction of a ledger entry.
type EntryKind string

const (
	KindIncome  EntryKind = "income"
	KindExpense EntryKind = "expense"
)

// Valid reports whether k is a known kind.
func (k EntryKind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// EntryStatus is the settlement state of a ledger entry.
type EntryStatus string

const (
	StatusPaid    EntryStatus = "paid"
	StatusPending EntryStatus = "pending"
)

// SourceADVBox marks entries imported from ADVBox.
const SourceADVBox = "advbox"

// Entry is one row of the local ledger. ExternalID is unique across entries
// and is the only key the importers use to find an existing row.
type Entry struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"externalId"`
	Source     string          `json:"source"`
	Kind       EntryKind       `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	CategoryID *string         `json:"categoryId"`
	AccountID  *string         `json:"accountId"`

	ScheduledDate civil.Date  `json:"scheduledDate"`
	DueDate       *civil.Date `json:"dueDate,omitempty"`
	PaidDate      *civil.Date `json:"paidDate,omitempty"`

	Status EntryStatus `json:"status"`
	Notes  string      `json:"notes"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedBy string    `json:"createdBy"`
	UpdatedBy string    `json:"updatedBy"`
}

// Category is a local ledger category.
type Category struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Kind   EntryKind `json:"kind"`
	Active bool      `json:"active"`
}

// Account is a local bank or cash account.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DatePtr returns a pointer to d, or nil when d is the zero date.
func DatePtr(d civil.Date) *civil.Date {
	if d.IsZero() {
		return nil
	}
	return &d
}
