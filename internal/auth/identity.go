package auth

import (
	"context"
	"errors"
)

// Feature names used in permission checks.
const (
	FeatureFinancial = "financial"
	FeatureWhatsApp  = "whatsapp"
)

// RoleAdmin bypasses per-feature permissions.
const RoleAdmin = "admin"

// Level is a per-feature permission level.
type Level string

const (
	LevelNone Level = "none"
	LevelView Level = "view"
	LevelEdit Level = "edit"
)

var levelRank = map[Level]int{
	LevelNone: 0,
	LevelView: 1,
	LevelEdit: 2,
}

var (
	// ErrUnauthenticated means no valid caller identity was presented.
	ErrUnauthenticated = errors.New("auth: authentication required")

	// ErrForbidden means the caller lacks the required permission.
	ErrForbidden = errors.New("auth: insufficient permission")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID      string           `json:"userId"`
	Email       string           `json:"email,omitempty"`
	Role        string           `json:"role,omitempty"`
	Permissions map[string]Level `json:"permissions,omitempty"`
}

// System is the identity used by the worker and CLI.
func System() *Identity {
	return &Identity{UserID: "system", Role: RoleAdmin}
}

// Can reports whether the identity holds at least level on feature.
func (i *Identity) Can(feature string, level Level) bool {
	if i == nil || i.UserID == "" {
		return false
	}
	if i.Role == RoleAdmin {
		return true
	}
	return levelRank[i.Permissions[feature]] >= levelRank[level]
}

// Require fails closed: a missing identity is ErrUnauthenticated and an
// insufficient one is ErrForbidden.
func Require(id *Identity, feature string, level Level) error {
	if id == nil || id.UserID == "" {
		return ErrUnauthenticated
	}
	if !id.Can(feature, level) {
		return ErrForbidden
	}
	return nil
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores the caller in the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the caller stored by WithIdentity.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}
