package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendly/attendly-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	session := &models.Session{
		Name:      "Robotics Workshop",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		CreatedBy: "admin-1",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions (id, name, created_at, expires_at, is_active, created_by)")).
		WithArgs(sqlmock.AnyArg(), "Robotics Workshop", now, now.Add(time.Hour), "admin-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), session))
	assert.NotEmpty(t, session.ID)
	assert.True(t, session.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCreateActiveConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	session := &models.Session{Name: "Late", CreatedAt: now, ExpiresAt: now.Add(time.Hour), CreatedBy: "admin-1"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_sessions_active"})

	err := repo.Create(context.Background(), session)
	require.ErrorIs(t, err, ErrActiveSessionExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "created_at", "expires_at", "is_active", "created_by"}).
		AddRow("sess-1", "Robotics Workshop", now, now.Add(time.Hour), true, "admin-1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, created_at, expires_at, is_active, created_by")).
		WillReturnRows(rows)

	session, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)
	assert.True(t, session.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryDeactivateOwnership(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active = FALSE WHERE id = $1 AND is_active")).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	owned, err := repo.Deactivate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, owned)

	// A second call finds nothing to flip: the transition happened once.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active = FALSE WHERE id = $1 AND is_active")).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	owned, err = repo.Deactivate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.False(t, owned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryListOverdue(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id"}).AddRow("sess-1").AddRow("sess-2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM sessions WHERE is_active AND expires_at <= $1")).
		WithArgs(now).
		WillReturnRows(rows)

	ids, err := repo.ListOverdue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1", "sess-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
