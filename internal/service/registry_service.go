package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/repository"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

const activeSessionCacheKey = "sessions:active"

// createRetries bounds how often Create re-runs the deactivate step after
// losing the activation race to a concurrent creator.
const createRetries = 3

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindActive(ctx context.Context) (*models.Session, error)
	Deactivate(ctx context.Context, id string) (bool, error)
	ListOverdue(ctx context.Context, now time.Time) ([]string, error)
}

type expiryEnforcer interface {
	OnExpire(ctx context.Context, sessionID string, expiredAt time.Time) (int, error)
	AbsentCount(ctx context.Context, sessionID string) (int, error)
	Schedule(sessionID string, expiredAt time.Time)
}

// RegistryConfig tunes session lifecycle behaviour.
type RegistryConfig struct {
	MaxDuration time.Duration
	CacheTTL    time.Duration
	OpTimeout   time.Duration
}

// RegistryService owns the session lifecycle and the single-active-session
// invariant. The invariant itself lives in storage (conditional deactivate
// plus a partial unique index on the active flag); this service sequences
// the writes and runs the one-time expiry side effects.
type RegistryService struct {
	sessions  sessionRepository
	enforcer  expiryEnforcer
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    RegistryConfig
	now       func() time.Time
}

// NewRegistryService constructs the registry.
func NewRegistryService(sessions sessionRepository, enforcer expiryEnforcer, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config RegistryConfig) *RegistryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = 8 * time.Hour
	}
	return &RegistryService{
		sessions:  sessions,
		enforcer:  enforcer,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateSessionRequest describes the payload for opening a session.
type CreateSessionRequest struct {
	Name            string `json:"name" validate:"required,min=1,max=200"`
	DurationMinutes int    `json:"durationMinutes" validate:"required,min=1"`
}

// Create opens a new session, first closing whichever session is still
// active. The deactivate write completes before the activating insert is
// issued; if another creator sneaks an activation in between, the partial
// unique index rejects ours and the loop re-runs the deactivate against the
// new row.
func (s *RegistryService) Create(ctx context.Context, req CreateSessionRequest, actor *models.JWTClaims) (*models.Session, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can open sessions")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute
	if duration > s.config.MaxDuration {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session duration exceeds the allowed maximum")
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		current, err := s.findActiveRow(ctx)
		if err != nil {
			return nil, err
		}
		if current != nil {
			s.terminalize(ctx, current, s.expiryMoment(current), ExpiryTriggerExplicit)
		}

		now := s.now()
		session := &models.Session{
			Name:      req.Name,
			CreatedAt: now,
			ExpiresAt: now.Add(duration),
			CreatedBy: actor.UserID,
		}
		octx, cancel := opContext(ctx, s.config.OpTimeout)
		err = s.sessions.Create(octx, session)
		cancel()
		if err == nil {
			s.cache.Invalidate(ctx, activeSessionCacheKey)
			s.metrics.RecordSessionCreated()
			s.logger.Info("session opened",
				zap.String("session_id", session.ID),
				zap.String("name", session.Name),
				zap.Time("expires_at", session.ExpiresAt),
			)
			return session, nil
		}
		if errors.Is(err, repository.ErrActiveSessionExists) {
			continue
		}
		return nil, storageError(err, "failed to create session")
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "could not win session activation, try again")
}

// GetActive returns the session currently accepting check-ins. A row whose
// window has already closed is expired on read and NOT_FOUND is returned.
func (s *RegistryService) GetActive(ctx context.Context) (*models.Session, error) {
	var cached models.Session
	if hit, _ := s.cache.Get(ctx, activeSessionCacheKey, &cached); hit && !cached.Expired(s.now()) {
		return &cached, nil
	}

	session, err := s.findActiveRow(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session")
	}
	if session.Expired(s.now()) {
		s.terminalize(ctx, session, session.ExpiresAt, ExpiryTriggerLazy)
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session")
	}

	ttl := s.config.CacheTTL
	if remaining := session.ExpiresAt.Sub(s.now()); remaining > 0 && (ttl <= 0 || remaining < ttl) {
		ttl = remaining
	}
	_ = s.cache.Set(ctx, activeSessionCacheKey, session, ttl)
	return session, nil
}

// FindByID resolves a session by id.
func (s *RegistryService) FindByID(ctx context.Context, id string) (*models.Session, error) {
	octx, cancel := opContext(ctx, s.config.OpTimeout)
	defer cancel()
	session, err := s.sessions.FindByID(octx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, storageError(err, "failed to load session")
	}
	return session, nil
}

// Expire closes a session. A nil actor marks an internal caller (lazy expiry
// or the sweep); the HTTP path requires an admin. Repeated calls on an
// already-closed session are a no-op answering with the existing absentee
// count.
func (s *RegistryService) Expire(ctx context.Context, sessionID string, actor *models.JWTClaims) (int, error) {
	if actor != nil && actor.Role != models.RoleAdmin {
		return 0, appErrors.Clone(appErrors.ErrForbidden, "only admins can expire sessions")
	}
	session, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !session.IsActive {
		return s.enforcer.AbsentCount(ctx, sessionID)
	}

	moment := s.expiryMoment(session)
	if owned, count := s.terminalize(ctx, session, moment, ExpiryTriggerExplicit); owned {
		return count, nil
	}
	// Lost the race to another caller; answer with whatever their backfill
	// produced so far.
	return s.enforcer.AbsentCount(ctx, sessionID)
}

// SweepOverdue closes every session left active past its window. Invoked
// periodically so absentee backfill does not depend on anyone polling
// GetActive.
func (s *RegistryService) SweepOverdue(ctx context.Context) (int, error) {
	octx, cancel := opContext(ctx, s.config.OpTimeout)
	ids, err := s.sessions.ListOverdue(octx, s.now())
	cancel()
	if err != nil {
		return 0, storageError(err, "failed to list overdue sessions")
	}
	closed := 0
	for _, id := range ids {
		session, err := s.FindByID(ctx, id)
		if err != nil {
			continue
		}
		if owned, _ := s.terminalize(ctx, session, session.ExpiresAt, ExpiryTriggerSweep); owned {
			closed++
		}
	}
	return closed, nil
}

// findActiveRow returns the active row or nil, mapping storage failures.
func (s *RegistryService) findActiveRow(ctx context.Context) (*models.Session, error) {
	octx, cancel := opContext(ctx, s.config.OpTimeout)
	defer cancel()
	session, err := s.sessions.FindActive(octx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageError(err, "failed to load active session")
	}
	return session, nil
}

// terminalize performs the terminal transition: the conditional deactivate
// write decides ownership, and only the owner runs the absentee backfill.
// Backfill failures are logged and retried in the background; they never
// propagate to the caller whose request merely tripped the expiry.
func (s *RegistryService) terminalize(ctx context.Context, session *models.Session, moment time.Time, trigger string) (bool, int) {
	octx, cancel := opContext(ctx, s.config.OpTimeout)
	owned, err := s.sessions.Deactivate(octx, session.ID)
	cancel()
	if err != nil {
		s.logger.Error("failed to deactivate session",
			zap.String("session_id", session.ID), zap.Error(err))
		return false, 0
	}
	if !owned {
		return false, 0
	}

	session.IsActive = false
	s.cache.Invalidate(ctx, activeSessionCacheKey)
	s.metrics.RecordSessionExpired(trigger)
	s.logger.Info("session expired",
		zap.String("session_id", session.ID),
		zap.String("trigger", trigger),
	)

	count, err := s.enforcer.OnExpire(ctx, session.ID, moment)
	if err != nil {
		s.logger.Error("absentee backfill failed, scheduling retry",
			zap.String("session_id", session.ID), zap.Error(err))
		s.enforcer.Schedule(session.ID, moment)
		return true, 0
	}
	return true, count
}

// expiryMoment picks the timestamp absent rows carry: the scheduled end for
// a session that ran its course, the current instant for one cut short.
func (s *RegistryService) expiryMoment(session *models.Session) time.Time {
	now := s.now()
	if session.Expired(now) {
		return session.ExpiresAt
	}
	return now
}
