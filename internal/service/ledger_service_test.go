package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendly/attendly-api/internal/models"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

type mockResolver struct {
	session     *models.Session
	expireCalls int
}

func (m *mockResolver) FindByID(ctx context.Context, id string) (*models.Session, error) {
	if m.session == nil || m.session.ID != id {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	clone := *m.session
	return &clone, nil
}

func (m *mockResolver) Expire(ctx context.Context, sessionID string, actor *models.JWTClaims) (int, error) {
	m.expireCalls++
	if m.session != nil && m.session.ID == sessionID {
		m.session.IsActive = false
	}
	return 0, nil
}

type mockAttendanceRepo struct {
	records []models.AttendanceRecord
}

func (m *mockAttendanceRepo) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	for i := range m.records {
		if m.records[i].SessionID == record.SessionID && m.records[i].UserID == record.UserID {
			clone := m.records[i]
			return &clone, false, nil
		}
	}
	stored := *record
	stored.ID = fmt.Sprintf("att-%d", len(m.records)+1)
	m.records = append(m.records, stored)
	clone := stored
	return &clone, true, nil
}

func (m *mockAttendanceRepo) ListByUser(ctx context.Context, userID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockAttendanceRepo) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func activeSessionAt(t0 time.Time, duration time.Duration) *models.Session {
	return &models.Session{
		ID:        "sess-1",
		Name:      "Robotics Workshop",
		CreatedAt: t0,
		ExpiresAt: t0.Add(duration),
		IsActive:  true,
	}
}

func newTestLedger(resolver *mockResolver, repo *mockAttendanceRepo, now time.Time) *LedgerService {
	svc := NewLedgerService(resolver, repo, nil, nil, 0)
	svc.now = func() time.Time { return now }
	return svc
}

func TestLedgerRecord(t *testing.T) {
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	resolver := &mockResolver{session: activeSessionAt(t0, time.Hour)}
	repo := &mockAttendanceRepo{}
	svc := newTestLedger(resolver, repo, t0.Add(5*time.Minute))

	result, err := svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, models.AttendanceStatusPresent, result.Record.Status)
	assert.Equal(t, models.MethodQR, result.Record.Method)
	assert.True(t, result.Record.CheckInTime.Equal(t0.Add(5*time.Minute)))
}

func TestLedgerRecordDuplicateKeepsOriginal(t *testing.T) {
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	resolver := &mockResolver{session: activeSessionAt(t0, time.Hour)}
	repo := &mockAttendanceRepo{}
	svc := newTestLedger(resolver, repo, t0.Add(5*time.Minute))

	first, err := svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	// Resubmit a minute later: same row back, no new write.
	svc.now = func() time.Time { return t0.Add(6 * time.Minute) }
	second, err := svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.True(t, second.Record.CheckInTime.Equal(t0.Add(5*time.Minute)))
	assert.Len(t, repo.records, 1)
}

func TestLedgerRecordExpiryBoundary(t *testing.T) {
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	t.Run("just inside the window", func(t *testing.T) {
		resolver := &mockResolver{session: activeSessionAt(t0, time.Hour)}
		svc := newTestLedger(resolver, &mockAttendanceRepo{}, t0.Add(time.Hour).Add(-time.Millisecond))

		_, err := svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
		assert.NoError(t, err)
		assert.Zero(t, resolver.expireCalls)
	})

	t.Run("at the expiry instant", func(t *testing.T) {
		resolver := &mockResolver{session: activeSessionAt(t0, time.Hour)}
		svc := newTestLedger(resolver, &mockAttendanceRepo{}, t0.Add(time.Hour))

		_, err := svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
		assert.ErrorIs(t, err, appErrors.ErrSessionExpired)
		assert.Equal(t, 1, resolver.expireCalls, "the rejected scan trips the terminal transition")
	})
}

func TestLedgerRecordInactiveSession(t *testing.T) {
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	session := activeSessionAt(t0, time.Hour)
	session.IsActive = false
	resolver := &mockResolver{session: session}

	// Superseded before its window ended: plain inactive.
	svc := newTestLedger(resolver, &mockAttendanceRepo{}, t0.Add(10*time.Minute))
	_, err := svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
	assert.ErrorIs(t, err, appErrors.ErrSessionInactive)

	// Closed and past its window: the expired answer wins so the client
	// knows the code itself is stale.
	svc.now = func() time.Time { return t0.Add(2 * time.Hour) }
	_, err = svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
	assert.ErrorIs(t, err, appErrors.ErrSessionExpired)
}

func TestLedgerRecordUnknownSession(t *testing.T) {
	svc := newTestLedger(&mockResolver{}, &mockAttendanceRepo{}, time.Now().UTC())

	_, err := svc.Record(context.Background(), "missing", studentClaims("stu-1"), models.MethodQR)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestLedgerRecordRejectsBadInput(t *testing.T) {
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	resolver := &mockResolver{session: activeSessionAt(t0, time.Hour)}
	svc := newTestLedger(resolver, &mockAttendanceRepo{}, t0)

	_, err := svc.Record(context.Background(), "sess-1", nil, models.MethodQR)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodSystem)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.CheckInMethod("carrier-pigeon"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestLedgerListForUser(t *testing.T) {
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	resolver := &mockResolver{session: activeSessionAt(t0, time.Hour)}
	repo := &mockAttendanceRepo{}
	svc := newTestLedger(resolver, repo, t0.Add(5*time.Minute))

	_, err := svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
	require.NoError(t, err)

	records, err := svc.ListForUser(context.Background(), studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = svc.ListForUser(context.Background(), studentClaims("stu-2"))
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = svc.ListForUser(context.Background(), nil)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestLedgerListForSession(t *testing.T) {
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	resolver := &mockResolver{session: activeSessionAt(t0, time.Hour)}
	repo := &mockAttendanceRepo{}
	svc := newTestLedger(resolver, repo, t0.Add(5*time.Minute))

	_, err := svc.Record(context.Background(), "sess-1", studentClaims("stu-1"), models.MethodQR)
	require.NoError(t, err)

	records, err := svc.ListForSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = svc.ListForSession(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
