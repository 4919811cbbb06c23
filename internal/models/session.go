package models

import "time"

// Session represents a check-in window stored in the sessions table.
// At most one row has is_active=true at any instant; the transition to
// inactive is terminal, a reopened session is always a new row.
type Session struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedBy string    `db:"created_by" json:"created_by"`
}

// Expired reports whether the session's check-in window has closed at the
// given instant. The boundary itself counts as expired.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
