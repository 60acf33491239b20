package repository

import (
	"context"
	"sync/atomic"
	"time"

	"autopunch/internal/domain"
	"autopunch/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSessionRepository prefers the primary (redis) store and falls back to
// the in-memory one when it errors, retrying the primary after a cooldown.
type FailoverSessionRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	downSince atomic.Int64 // unix nanos of the last failed primary call
}

const primaryRetryAfter = time.Minute

func NewFailoverSessionRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverSessionRepository {
	return &FailoverSessionRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSessionRepository) primaryUsable() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.downSince.Load())) > primaryRetryAfter
}

func (r *FailoverSessionRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary session repository failed, falling back to memory")
	r.isDown.Store(true)
	r.downSince.Store(time.Now().UnixNano())
}

func (r *FailoverSessionRepository) GetSession(ctx context.Context, userID int64) (*models.SessionState, error) {
	if r.primaryUsable() {
		session, err := r.primary.GetSession(ctx, userID)
		if err == nil {
			r.isDown.Store(false)
			return session, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetSession(ctx, userID)
}

func (r *FailoverSessionRepository) SetSession(ctx context.Context, session *models.SessionState) error {
	if r.primaryUsable() {
		err := r.primary.SetSession(ctx, session)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetSession(ctx, session)
}

func (r *FailoverSessionRepository) ClearSession(ctx context.Context, userID int64) error {
	if r.primaryUsable() {
		err := r.primary.ClearSession(ctx, userID)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.ClearSession(ctx, userID)
}

func (r *FailoverSessionRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.primaryUsable() {
		ok, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.isDown.Store(false)
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
