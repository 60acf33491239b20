package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autopunch/internal/crypto"
	"autopunch/internal/database"
	"autopunch/internal/domain"
	"autopunch/internal/events"
	"autopunch/internal/models"

	"github.com/rs/zerolog"
)

// HRGateway is the slice of the HR adapter the binding flow needs.
type HRGateway interface {
	Login(ctx context.Context, companyID, internalCompanyID, empID, password string) (string, error)
}

// ErrTooManyBindAttempts throttles credential verification: the HR gateway
// locks accounts after repeated bad logins, so the limit sits in front of it.
var ErrTooManyBindAttempts = errors.New("too many bind attempts, try again later")

const (
	bindAttemptLimit  = 5
	bindAttemptWindow = 15 * time.Minute
)

// BindingService verifies HR credentials, stores them encrypted, and resolves
// them back into live credentials for the executor.
type BindingService struct {
	repo     domain.BindingRepository
	hr       HRGateway
	cipher   *crypto.Cipher
	sessions domain.StateRepository
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBindingService(
	repo domain.BindingRepository,
	hr HRGateway,
	cipher *crypto.Cipher,
	sessions domain.StateRepository,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *BindingService {
	return &BindingService{
		repo:     repo,
		hr:       hr,
		cipher:   cipher,
		sessions: sessions,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Bind verifies the credentials against the HR system and upserts the binding.
// Re-binding replaces the stored token and invalidates any cached session.
// Attempts are rate-limited per chat; the counter fails open when the state
// store is down so a redis outage cannot block binding.
func (s *BindingService) Bind(ctx context.Context, chatID int64, companyID, internalCompanyID, empID, password string) (*models.UserBinding, error) {
	allowed, err := s.sessions.CheckRateLimit(ctx,
		fmt.Sprintf("bind:%d", chatID), bindAttemptLimit, bindAttemptWindow)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Bind rate-limit check failed, allowing attempt")
	} else if !allowed {
		return nil, ErrTooManyBindAttempts
	}

	token, err := s.hr.Login(ctx, companyID, internalCompanyID, empID, password)
	if err != nil {
		return nil, fmt.Errorf("credential verification failed: %w", err)
	}

	encrypted, iv, err := s.cipher.Encrypt(token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}

	binding := &models.UserBinding{
		ChatID:            chatID,
		EmpID:             empID,
		CompanyID:         companyID,
		InternalCompanyID: internalCompanyID,
		EncryptedToken:    encrypted,
		TokenIV:           iv,
	}
	if err := s.repo.UpsertBinding(ctx, binding); err != nil {
		return nil, err
	}

	if err := s.sessions.ClearSession(ctx, binding.ID); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", binding.ID).Msg("Failed to clear cached session")
	}

	_ = s.eventBus.PublishJSON(events.EventUserBound, map[string]any{
		"user_id": binding.ID,
		"emp_id":  binding.EmpID,
	})

	s.logger.Info().Int64("user_id", binding.ID).Str("emp_id", empID).Msg("User bound")
	return binding, nil
}

// BindingStatus returns the binding plus usage stats for one chat user.
// A missing binding surfaces as database.ErrNotBound.
func (s *BindingService) BindingStatus(ctx context.Context, chatID int64) (*models.UserBinding, *models.UsageStats, error) {
	binding, err := s.repo.GetBindingByChatID(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.repo.GetUsageStats(ctx, binding.ID)
	if err != nil {
		return nil, nil, err
	}
	return binding, stats, nil
}

// Resolve produces live credentials for a bound user, preferring a cached
// session to a fresh decrypt. The session cache is best-effort on both sides.
func (s *BindingService) Resolve(ctx context.Context, userID int64) (*models.Credentials, error) {
	binding, err := s.repo.GetBindingByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if binding.CompanyID == "" || binding.InternalCompanyID == "" || binding.EmpID == "" {
		return nil, database.ErrNotBound
	}

	creds := &models.Credentials{
		CompanyID:         binding.CompanyID,
		InternalCompanyID: binding.InternalCompanyID,
		EmpID:             binding.EmpID,
		Cookies:           binding.Cookies,
	}

	if session, err := s.sessions.GetSession(ctx, userID); err == nil && session != nil && session.Token != "" {
		creds.Token = session.Token
		if session.Cookies != "" {
			creds.Cookies = session.Cookies
		}
		return creds, nil
	}

	token, err := s.cipher.Decrypt(binding.EncryptedToken, binding.TokenIV)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}
	creds.Token = token

	if err := s.sessions.SetSession(ctx, &models.SessionState{
		UserID:   userID,
		Token:    token,
		Cookies:  binding.Cookies,
		CachedAt: time.Now(),
	}); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to cache session")
	}

	return creds, nil
}
