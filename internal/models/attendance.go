package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusAbsent
}

// CheckInMethod identifies how an attendance record was produced.
type CheckInMethod string

const (
	MethodQR     CheckInMethod = "qr"
	MethodManual CheckInMethod = "manual"
	MethodCode   CheckInMethod = "code"
	MethodSystem CheckInMethod = "system"
)

// Valid returns true when the method is a supported value.
func (m CheckInMethod) Valid() bool {
	switch m {
	case MethodQR, MethodManual, MethodCode, MethodSystem:
		return true
	default:
		return false
	}
}

// AttendanceRecord is a single immutable check-in row. The attendance table
// carries UNIQUE(session_id, user_id); rows are never updated or deleted.
type AttendanceRecord struct {
	ID          string           `db:"id" json:"id"`
	SessionID   string           `db:"session_id" json:"session_id"`
	UserID      string           `db:"user_id" json:"user_id"`
	CheckInTime time.Time        `db:"check_in_time" json:"check_in_time"`
	Status      AttendanceStatus `db:"status" json:"status"`
	Method      CheckInMethod    `db:"method" json:"method"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// CheckInResult wraps a record with the duplicate flag so callers can tell a
// first check-in from a repeated scan. Both are success outcomes.
type CheckInResult struct {
	Record    *AttendanceRecord `json:"record"`
	Duplicate bool              `json:"duplicate"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
