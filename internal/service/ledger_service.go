package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

type sessionResolver interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Expire(ctx context.Context, sessionID string, actor *models.JWTClaims) (int, error)
}

type attendanceRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.AttendanceRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

// LedgerService records attendance idempotently. The storage-level unique
// constraint on (session_id, user_id) is what makes blind client retries
// safe; this service only maps the constraint outcome onto a friendly
// "already recorded" response.
type LedgerService struct {
	registry  sessionResolver
	ledger    attendanceRepository
	metrics   *MetricsService
	logger    *zap.Logger
	opTimeout time.Duration
	now       func() time.Time
}

// NewLedgerService constructs the ledger.
func NewLedgerService(registry sessionResolver, ledger attendanceRepository, metrics *MetricsService, logger *zap.Logger, opTimeout time.Duration) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		registry:  registry,
		ledger:    ledger,
		metrics:   metrics,
		logger:    logger,
		opTimeout: opTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record checks the principal into the session. A repeated scan returns the
// original record flagged duplicate, never an error. A scan at or past the
// expiry instant is rejected and trips the session's terminal transition as
// a side effect.
func (s *LedgerService) Record(ctx context.Context, sessionID string, principal *models.JWTClaims, method models.CheckInMethod) (*models.CheckInResult, error) {
	if principal == nil || principal.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if !method.Valid() || method == models.MethodSystem {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported check-in method")
	}

	session, err := s.registry.FindByID(ctx, sessionID)
	if err != nil {
		s.metrics.RecordScan(ScanResultRejected, string(method))
		return nil, err
	}
	now := s.now()
	if session.IsActive && session.Expired(now) {
		// Expire on read. The backfill runs behind the registry; this
		// student's rejection does not wait on other students' bookkeeping.
		if _, err := s.registry.Expire(ctx, sessionID, nil); err != nil {
			s.logger.Warn("lazy expiry failed during check-in",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		s.metrics.RecordScan(ScanResultRejected, string(method))
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "")
	}
	if !session.IsActive {
		s.metrics.RecordScan(ScanResultRejected, string(method))
		if session.Expired(now) {
			return nil, appErrors.Clone(appErrors.ErrSessionExpired, "")
		}
		return nil, appErrors.Clone(appErrors.ErrSessionInactive, "")
	}

	record := &models.AttendanceRecord{
		SessionID:   sessionID,
		UserID:      principal.UserID,
		CheckInTime: now,
		Status:      models.AttendanceStatusPresent,
		Method:      method,
	}
	octx, cancel := opContext(ctx, s.opTimeout)
	stored, inserted, err := s.ledger.Insert(octx, record)
	cancel()
	if err != nil {
		return nil, storageError(err, "failed to record attendance")
	}

	if inserted {
		s.metrics.RecordScan(ScanResultRecorded, string(method))
		s.logger.Info("attendance recorded",
			zap.String("session_id", sessionID),
			zap.String("user_id", principal.UserID),
			zap.String("method", string(method)),
		)
	} else {
		s.metrics.RecordScan(ScanResultDuplicate, string(method))
	}
	return &models.CheckInResult{Record: stored, Duplicate: !inserted}, nil
}

// ListForUser returns the principal's records, newest first.
func (s *LedgerService) ListForUser(ctx context.Context, principal *models.JWTClaims) ([]models.AttendanceRecord, error) {
	if principal == nil || principal.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	octx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	records, err := s.ledger.ListByUser(octx, principal.UserID)
	if err != nil {
		return nil, storageError(err, "failed to list attendance")
	}
	return records, nil
}

// ListForSession returns every record a session holds. The session must
// exist; an empty ledger for a real session is an empty list, not an error.
func (s *LedgerService) ListForSession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	if _, err := s.registry.FindByID(ctx, sessionID); err != nil {
		return nil, err
	}
	octx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	records, err := s.ledger.ListBySession(octx, sessionID)
	if err != nil {
		return nil, storageError(err, "failed to list session attendance")
	}
	return records, nil
}
