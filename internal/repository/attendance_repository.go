package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/attendly/attendly-api/internal/models"
)

// AttendanceRepository handles persistence for attendance records. Rows are
// insert-only; the UNIQUE(session_id, user_id) constraint is the single
// arbiter of at-most-once attendance.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `id, session_id, user_id, check_in_time, status, method, created_at`

// Insert writes a record, letting the unique constraint absorb races. The
// returned bool is true when this call created the row; false means a row
// for (session, user) already existed and the stored original is returned
// with its check-in time untouched.
func (r *AttendanceRepository) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO attendance (id, session_id, user_id, check_in_time, status, method, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id, user_id) DO NOTHING
RETURNING ` + attendanceColumns
	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.SessionID, record.UserID, record.CheckInTime, record.Status, record.Method, record.CreatedAt)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert attendance: %w", err)
	}

	// Conflict path: the row exists, fetch it.
	existing, err := r.FindBySessionAndUser(ctx, record.SessionID, record.UserID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindBySessionAndUser returns the unique record for the pair.
// sql.ErrNoRows passes through untouched.
func (r *AttendanceRepository) FindBySessionAndUser(ctx context.Context, sessionID, userID string) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE session_id = $1 AND user_id = $2`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, sessionID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find attendance for session %s user %s: %w", sessionID, userID, err)
	}
	return &record, nil
}

// ListByUser returns all records for a user, newest first.
func (r *AttendanceRepository) ListByUser(ctx context.Context, userID string) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE user_id = $1 ORDER BY check_in_time DESC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, userID); err != nil {
		return nil, fmt.Errorf("list attendance for user %s: %w", userID, err)
	}
	return records, nil
}

// ListBySession returns all records for a session.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE session_id = $1`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendance for session %s: %w", sessionID, err)
	}
	return records, nil
}

// ListUserIDsBySession returns only the user ids holding a record for the
// session, the set the absentee computation subtracts from the roster.
func (r *AttendanceRepository) ListUserIDsBySession(ctx context.Context, sessionID string) ([]string, error) {
	query := `SELECT user_id FROM attendance WHERE session_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendee ids for session %s: %w", sessionID, err)
	}
	return ids, nil
}

// CountAbsent returns the number of absent rows held by a session.
func (r *AttendanceRepository) CountAbsent(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT COUNT(*) FROM attendance WHERE session_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sessionID, models.AttendanceStatusAbsent); err != nil {
		return 0, fmt.Errorf("count absentees for session %s: %w", sessionID, err)
	}
	return count, nil
}

// InsertAbsentees bulk-inserts absent rows for the backfill, skipping pairs
// that already hold a record. Safe to re-run whole: the conflict target
// swallows every row the first run managed to write. Returns the number of
// rows actually inserted.
func (r *AttendanceRepository) InsertAbsentees(ctx context.Context, records []models.AttendanceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin absentee backfill: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()
	query := `INSERT INTO attendance (id, session_id, user_id, check_in_time, status, method, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id, user_id) DO NOTHING`
	now := time.Now().UTC()
	inserted := 0
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		res, err := tx.ExecContext(ctx, query,
			rec.ID, rec.SessionID, rec.UserID, rec.CheckInTime, rec.Status, rec.Method, rec.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("insert absentee for user %s: %w", rec.UserID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert absentee for user %s: %w", rec.UserID, err)
		}
		inserted += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit absentee backfill: %w", err)
	}
	commit = true
	return inserted, nil
}
