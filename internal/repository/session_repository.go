package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/attendly/attendly-api/internal/models"
)

// ErrActiveSessionExists surfaces the partial unique index on
// sessions(is_active). A lost deactivate/activate race lands here instead of
// leaving two active rows in the table.
var ErrActiveSessionExists = errors.New("another session is already active")

// SessionRepository handles persistence for check-in sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new active session. The uq_sessions_active partial index
// rejects the insert when another row is still active; callers must have
// completed the deactivate write first.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	query := `INSERT INTO sessions (id, name, created_at, expires_at, is_active, created_by)
VALUES ($1, $2, $3, $4, TRUE, $5)`
	if _, err := r.db.ExecContext(ctx, query, session.ID, session.Name, session.CreatedAt, session.ExpiresAt, session.CreatedBy); err != nil {
		if IsUniqueViolation(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	session.IsActive = true
	return nil
}

// FindByID returns a session by id. sql.ErrNoRows passes through untouched.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT id, name, created_at, expires_at, is_active, created_by FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	return &session, nil
}

// FindActive returns the most recent session still flagged active,
// regardless of its expiry; the registry decides what an overdue row means.
func (r *SessionRepository) FindActive(ctx context.Context) (*models.Session, error) {
	query := `SELECT id, name, created_at, expires_at, is_active, created_by
FROM sessions WHERE is_active ORDER BY created_at DESC LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return &session, nil
}

// Deactivate flips is_active to false for the given session. It returns true
// only when this call performed the transition, which makes the caller the
// sole owner of the one-time expiry side effects. Repeat calls return false.
func (r *SessionRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	query := `UPDATE sessions SET is_active = FALSE WHERE id = $1 AND is_active`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("deactivate session %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate session %s: %w", id, err)
	}
	return affected == 1, nil
}

// ListOverdue returns ids of rows still flagged active whose expiry has
// passed as of the given instant. The periodic sweep uses it to close
// sessions nobody read after their window ended.
func (r *SessionRepository) ListOverdue(ctx context.Context, now time.Time) ([]string, error) {
	query := `SELECT id FROM sessions WHERE is_active AND expires_at <= $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, now); err != nil {
		return nil, fmt.Errorf("list overdue sessions: %w", err)
	}
	return ids, nil
}

// IsUniqueViolation reports whether the error is a PostgreSQL unique
// constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
