package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nidohq/nido/internal/auth"
	"github.com/nidohq/nido/internal/models"
	"github.com/nidohq/nido/pkg/crypto"
	"github.com/nidohq/nido/pkg/logger"
	"github.com/nidohq/nido/pkg/mail"
)

const defaultResetExpiry = time.Hour

// RecoveryOption customises RecoveryService behaviour.
type RecoveryOption func(*RecoveryService)

// WithRecoveryBaseURL configures the base URL used in reset links.
func WithRecoveryBaseURL(url string) RecoveryOption {
	return func(s *RecoveryService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithResetExpiry overrides the reset token lifetime.
func WithResetExpiry(d time.Duration) RecoveryOption {
	return func(s *RecoveryService) {
		if d > 0 {
			s.resetExpiry = d
		}
	}
}

// WithRecoveryClock injects a custom time source.
func WithRecoveryClock(clock func() time.Time) RecoveryOption {
	return func(s *RecoveryService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// RecoveryService implements the password-reset flow: mint a short-lived
// one-time token, validate it on presentation, consume it exactly once
// alongside the password update.
type RecoveryService struct {
	db          *gorm.DB
	mailer      mail.Mailer
	baseURL     string
	resetExpiry time.Duration
	now         func() time.Time
}

// NewRecoveryService constructs a RecoveryService with the provided dependencies.
func NewRecoveryService(db *gorm.DB, mailer mail.Mailer, opts ...RecoveryOption) (*RecoveryService, error) {
	if db == nil {
		return nil, errors.New("recovery service: db is required")
	}

	service := &RecoveryService{
		db:          db,
		mailer:      mailer,
		resetExpiry: defaultResetExpiry,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Recover mints a reset token for the account behind the email, when one
// exists. The caller always receives the same nil result either way so
// responses cannot be used to enumerate accounts.
func (s *RecoveryService) Recover(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("recovery service: find user: %w", err)
	}

	token, err := auth.NewOneTimeToken()
	if err != nil {
		return fmt.Errorf("recovery service: mint reset token: %w", err)
	}
	expiresAt := s.now().Add(s.resetExpiry)

	err = s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"reset_password_token":      token,
			"reset_password_expires_at": expiresAt,
		}).Error
	if err != nil {
		return fmt.Errorf("recovery service: store reset token: %w", err)
	}

	s.sendResetMail(ctx, email, token)
	return nil
}

// ResetLookup resolves a reset token without consuming it. The three
// outcomes stay distinct: found, ErrTokenExpired, ErrTokenNotFound.
func (s *RecoveryService) ResetLookup(ctx context.Context, token string) (*models.User, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("reset_password_token = ?", token).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recovery service: find reset token: %w", err)
	}

	switch auth.CheckOneTime(token, user.ResetPasswordToken, user.ResetPasswordExpiresAt, s.now()) {
	case auth.OneTimeValid:
		return &user, nil
	case auth.OneTimeExpired:
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenNotFound
	}
}

// ResetPassword consumes a reset token and stores the new password hash.
// The hash write and the token clear are a single conditional update so
// they commit together and the token is usable at most once. No session
// token is issued; the user logs in again with the new password.
func (s *RecoveryService) ResetPassword(ctx context.Context, token, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.ResetLookup(ctx, token)
	if err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("recovery service: hash password: %w", err)
	}

	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("reset_password_token = ? AND reset_password_expires_at > ?", token, s.now()).
		Updates(map[string]any{
			"password":                  hash,
			"reset_password_token":      nil,
			"reset_password_expires_at": nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("recovery service: consume reset token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Raced against a concurrent reset or the expiry boundary.
		if _, err := s.ResetLookup(ctx, token); err != nil {
			return nil, err
		}
		return nil, ErrTokenNotFound
	}

	user.Password = &hash
	user.ResetPasswordToken = nil
	user.ResetPasswordExpiresAt = nil
	return user, nil
}

func (s *RecoveryService) sendResetMail(ctx context.Context, to, token string) {
	if s.mailer == nil {
		return
	}

	link := token
	if s.baseURL != "" {
		link = fmt.Sprintf("%s/api/auth/reset/%s", s.baseURL, token)
	}

	msg := mail.Compose(mail.TemplatePasswordReset, to, link)
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		logger.WithModule("recovery").Warn("email delivery failed", zap.Error(err))
	}
}
