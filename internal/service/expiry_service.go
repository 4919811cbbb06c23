package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/pkg/jobs"
)

type rosterRepository interface {
	ListActiveStudentIDs(ctx context.Context) ([]string, error)
}

type absenteeRepository interface {
	ListUserIDsBySession(ctx context.Context, sessionID string) ([]string, error)
	InsertAbsentees(ctx context.Context, records []models.AttendanceRecord) (int, error)
	CountAbsent(ctx context.Context, sessionID string) (int, error)
}

// backfillPayload is carried by retry jobs.
type backfillPayload struct {
	SessionID string
	ExpiredAt time.Time
}

// ExpiryService materializes absent records when a session reaches its
// terminal transition. OnExpire is idempotent: the attendance uniqueness
// constraint swallows rows an earlier run already wrote, so a retry after a
// partial failure completes the remainder without duplicating anything.
type ExpiryService struct {
	roster    rosterRepository
	ledger    absenteeRepository
	metrics   *MetricsService
	logger    *zap.Logger
	queue     *jobs.Queue
	opTimeout time.Duration
}

// NewExpiryService constructs the enforcer. The retry queue is started by
// Start and drains backfills that failed in-line with their trigger.
func NewExpiryService(roster rosterRepository, ledger absenteeRepository, metrics *MetricsService, logger *zap.Logger, queueCfg jobs.QueueConfig, opTimeout time.Duration) *ExpiryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExpiryService{
		roster:    roster,
		ledger:    ledger,
		metrics:   metrics,
		logger:    logger,
		opTimeout: opTimeout,
	}
	queueCfg.Logger = logger
	s.queue = jobs.NewQueue("absentee-backfill", s.handleRetry, queueCfg)
	return s
}

// Start launches the retry workers.
func (s *ExpiryService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the retry workers.
func (s *ExpiryService) Stop() {
	s.queue.Stop()
}

// OnExpire computes absentees for the session and inserts absent rows
// stamped at the expiry moment. It returns the number of rows written by
// this invocation; re-invocation after the backfill is complete returns 0.
func (s *ExpiryService) OnExpire(ctx context.Context, sessionID string, expiredAt time.Time) (int, error) {
	octx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	roster, err := s.roster.ListActiveStudentIDs(octx)
	if err != nil {
		s.metrics.RecordBackfill(0, true)
		return 0, storageError(err, "failed to load student roster")
	}
	attended, err := s.ledger.ListUserIDsBySession(octx, sessionID)
	if err != nil {
		s.metrics.RecordBackfill(0, true)
		return 0, storageError(err, "failed to load session attendees")
	}

	seen := make(map[string]struct{}, len(attended))
	for _, id := range attended {
		seen[id] = struct{}{}
	}

	absentees := make([]models.AttendanceRecord, 0, len(roster))
	for _, userID := range roster {
		if _, ok := seen[userID]; ok {
			continue
		}
		absentees = append(absentees, models.AttendanceRecord{
			SessionID:   sessionID,
			UserID:      userID,
			CheckInTime: expiredAt.UTC(),
			Status:      models.AttendanceStatusAbsent,
			Method:      models.MethodSystem,
		})
	}

	inserted, err := s.ledger.InsertAbsentees(octx, absentees)
	if err != nil {
		s.metrics.RecordBackfill(0, true)
		return 0, storageError(err, "failed to insert absentee records")
	}

	s.metrics.RecordBackfill(inserted, false)
	s.logger.Info("absentee backfill complete",
		zap.String("session_id", sessionID),
		zap.Int("roster", len(roster)),
		zap.Int("absent", inserted),
	)
	return inserted, nil
}

// AbsentCount reports how many absent rows a session holds. Repeated expire
// calls answer with this instead of re-running the backfill.
func (s *ExpiryService) AbsentCount(ctx context.Context, sessionID string) (int, error) {
	octx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	count, err := s.ledger.CountAbsent(octx, sessionID)
	if err != nil {
		return 0, storageError(err, "failed to count absentees")
	}
	return count, nil
}

// Schedule places a backfill attempt on the retry queue. Used when the
// in-line attempt failed; the triggering request has already moved on.
func (s *ExpiryService) Schedule(sessionID string, expiredAt time.Time) {
	job := jobs.Job{
		ID:      fmt.Sprintf("backfill-%s", sessionID),
		Type:    "absentee-backfill",
		Payload: backfillPayload{SessionID: sessionID, ExpiredAt: expiredAt},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Error("failed to schedule backfill retry",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *ExpiryService) handleRetry(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(backfillPayload)
	if !ok {
		s.logger.Error("unexpected backfill payload", zap.String("job_id", job.ID))
		return nil
	}
	_, err := s.OnExpire(ctx, payload.SessionID, payload.ExpiredAt)
	return err
}
