// Package domain contains the entitlement record, canonical billing snapshot
// and provider event types shared by the reconciliation engine and its adapters.
package domain

import "time"

// Status is the effective subscription status the rest of the system understands.
type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the known effective statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Record is the per-user entitlement projection used for authorization checks.
type Record struct {
	UserID           string     `json:"user_id" gorm:"primaryKey;type:varchar(191)"`
	IsPremium        bool       `json:"is_premium" gorm:"not null;default:false"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty" gorm:""`
	Status           Status     `json:"status" gorm:"type:text;not null;default:none"`
	SubscriptionID   *string    `json:"subscription_id,omitempty" gorm:"type:varchar(191);index"`
	Provider         string     `json:"provider,omitempty" gorm:"type:text;not null;default:''"`
	LastReconciledAt *time.Time `json:"last_reconciled_at,omitempty" gorm:""`
	Version          int64      `json:"version" gorm:"not null;default:0"`
	CreatedAt        time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "entitlements" }

// NewRecord returns the implicit record of a user who has never paid.
func NewRecord(userID string) Record {
	return Record{UserID: userID, Status: StatusNone}
}

// Exists reports whether the record has been persisted at least once.
func (r Record) Exists() bool {
	return r.Version > 0
}

// BoundSubscriptionID returns the bound subscription id or "".
func (r Record) BoundSubscriptionID() string {
	if r.SubscriptionID == nil {
		return ""
	}
	return *r.SubscriptionID
}

// HoldsEntitlement reports whether the record is in a status that still owns
// a paid period (active or cancelled-but-not-yet-expired).
func (r Record) HoldsEntitlement() bool {
	return r.Status == StatusActive || r.Status == StatusCancelled
}

// Clone returns a deep copy so callers can mutate pointer fields safely.
func (r Record) Clone() Record {
	out := r
	out.ExpiresAt = cloneTime(r.ExpiresAt)
	out.LastReconciledAt = cloneTime(r.LastReconciledAt)
	if r.SubscriptionID != nil {
		id := *r.SubscriptionID
		out.SubscriptionID = &id
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t in UTC.
func TimePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
