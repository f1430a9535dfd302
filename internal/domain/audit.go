package domain

import (
	"encoding/json"
	"time"
)

// AuditLog is an append-only record of a user-visible action.
type AuditLog struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	UserID    string          `json:"userId"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"createdAt"`
}
