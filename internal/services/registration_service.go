package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
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

const (
	defaultInviteExpiry = 72 * time.Hour
	pinDigits           = 6
)

// ErrAlreadyVerified signals a resend request for an account that no
// longer needs verification.
var ErrAlreadyVerified = errors.New("user: already verified")

// RegistrationOption customises RegistrationService behaviour.
type RegistrationOption func(*RegistrationService)

// WithRegistrationBaseURL configures the base URL used in emailed links.
func WithRegistrationBaseURL(url string) RegistrationOption {
	return func(s *RegistrationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithInviteExpiry overrides the invitation token lifetime.
func WithInviteExpiry(d time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if d > 0 {
			s.inviteExpiry = d
		}
	}
}

// WithRequireVerifiedLogin makes login refuse accounts that have not
// completed email verification.
func WithRequireVerifiedLogin(require bool) RegistrationOption {
	return func(s *RegistrationService) {
		s.requireVerified = require
	}
}

// WithRegistrationClock injects a custom time source.
func WithRegistrationClock(clock func() time.Time) RegistrationOption {
	return func(s *RegistrationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// RegistrationService implements the three registration state machines:
// direct (Unverified -> Verified), PIN, and invitation (Invited -> Active).
type RegistrationService struct {
	db              *gorm.DB
	tokens          *auth.JWTService
	mailer          mail.Mailer
	baseURL         string
	inviteExpiry    time.Duration
	requireVerified bool
	now             func() time.Time
}

// NewRegistrationService constructs a RegistrationService with the provided dependencies.
func NewRegistrationService(db *gorm.DB, tokens *auth.JWTService, mailer mail.Mailer, opts ...RegistrationOption) (*RegistrationService, error) {
	if db == nil {
		return nil, errors.New("registration service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("registration service: token service is required")
	}

	service := &RegistrationService{
		db:           db,
		tokens:       tokens,
		mailer:       mailer,
		inviteExpiry: defaultInviteExpiry,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// RegisterInput captures the details required for direct registration.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Phone     string
}

// Register provisions a new unverified user, mints a verification token
// and dispatches the verification email.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, errors.New("registration service: email is required")
	}
	if input.Password == "" {
		return nil, errors.New("registration service: password is required")
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("registration service: hash password: %w", err)
	}

	token, err := auth.NewOneTimeToken()
	if err != nil {
		return nil, fmt.Errorf("registration service: mint verification token: %w", err)
	}

	user := &models.User{
		FirstName:         strings.TrimSpace(input.FirstName),
		LastName:          strings.TrimSpace(input.LastName),
		Email:             email,
		Phone:             strings.TrimSpace(input.Phone),
		Avatar:            "default_user.png",
		Role:              models.RoleRegistered,
		Password:          &hash,
		Active:            true,
		VerificationToken: &token,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("registration service: create user: %w", err)
	}

	s.sendMail(ctx, mail.TemplateVerification, email, s.link("verify", token))

	return user, nil
}

// VerifyEmail consumes a verification token. The update is a single
// conditional write so concurrent presentations succeed at most once.
func (s *RegistrationService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("verification_token = ?", token).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registration service: find verification token: %w", err)
	}

	if auth.CheckOneTime(token, user.VerificationToken, nil, s.now()) != auth.OneTimeValid {
		return nil, ErrTokenNotFound
	}

	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND verification_token = ?", user.ID, token).
		Updates(map[string]any{
			"is_verified":        true,
			"verification_token": nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("registration service: consume verification token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race against a concurrent presentation.
		return nil, ErrTokenNotFound
	}

	user.IsVerified = true
	user.VerificationToken = nil
	return &user, nil
}

// ResendVerification rotates the verification token for an unverified
// account, invalidating the previous one.
func (s *RegistrationService) ResendVerification(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registration service: find user: %w", err)
	}

	if user.IsVerified {
		return nil, ErrAlreadyVerified
	}

	token, err := auth.NewOneTimeToken()
	if err != nil {
		return nil, fmt.Errorf("registration service: mint verification token: %w", err)
	}

	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND is_verified = ?", user.ID, false).
		Update("verification_token", token)
	if res.Error != nil {
		return nil, fmt.Errorf("registration service: rotate verification token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyVerified
	}

	user.VerificationToken = &token
	s.sendMail(ctx, mail.TemplateVerification, email, s.link("verify", token))

	return &user, nil
}

// Login authenticates an email/password pair and issues a session token.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *RegistrationService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("registration service: find user: %w", err)
	}

	if !user.HasPassword() || !crypto.VerifyPassword(*user.Password, password) {
		return nil, "", ErrInvalidCredentials
	}

	if s.requireVerified && !user.IsVerified {
		return nil, "", ErrNotVerified
	}

	signed, err := s.tokens.IssueSession(user.ID, user.Role)
	if err != nil {
		return nil, "", fmt.Errorf("registration service: issue session: %w", err)
	}

	return &user, signed, nil
}

// RegisterByPIN consumes a pending PIN invitation for an authenticated
// user, activating the functional unit association. Every failure mode
// collapses into ErrPINNotFound.
func (s *RegistrationService) RegisterByPIN(ctx context.Context, userID, pin string) (*models.FunctionalUnitUser, error) {
	ctx = ensureContext(ctx)

	pin = strings.TrimSpace(pin)
	if userID == "" || pin == "" {
		return nil, ErrPINNotFound
	}

	var pending []models.FunctionalUnitUser
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ? AND pin IS NOT NULL", userID, false).
		Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("registration service: find pending invitations: %w", err)
	}

	now := s.now()
	for i := range pending {
		if auth.CheckOneTime(pin, pending[i].PIN, pending[i].InvitationExpiresAt, now) != auth.OneTimeValid {
			continue
		}

		res := s.db.WithContext(ctx).
			Model(&models.FunctionalUnitUser{}).
			Where("id = ? AND active = ? AND pin = ?", pending[i].ID, false, pin).
			Updates(map[string]any{
				"active":                true,
				"pin":                   nil,
				"invitation_token":      nil,
				"invitation_expires_at": nil,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("registration service: consume pin: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue // consumed concurrently
		}

		var assoc models.FunctionalUnitUser
		if err := s.db.WithContext(ctx).Preload("FunctionalUnit").First(&assoc, "id = ?", pending[i].ID).Error; err != nil {
			return nil, fmt.Errorf("registration service: reload association: %w", err)
		}
		return &assoc, nil
	}

	return nil, ErrPINNotFound
}

// Invitation pairs the invited user with the functional unit the token
// belongs to.
type Invitation struct {
	User           *models.User
	FunctionalUnit *models.FunctionalUnit
}

// InvitationByToken resolves an invitation token without consuming it.
// ErrTokenNotFound and ErrTokenExpired stay distinct so the HTTP boundary
// can answer 404 versus 204.
func (s *RegistrationService) InvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	var assoc models.FunctionalUnitUser
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("FunctionalUnit").
		Where("invitation_token = ?", token).
		First(&assoc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registration service: find invitation: %w", err)
	}

	switch auth.CheckOneTime(token, assoc.InvitationToken, assoc.InvitationExpiresAt, s.now()) {
	case auth.OneTimeValid:
		return &Invitation{User: assoc.User, FunctionalUnit: assoc.FunctionalUnit}, nil
	case auth.OneTimeExpired:
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenNotFound
	}
}

// RegisterByInvitation consumes an invitation token, sets the user's
// password and activates both the user and the unit association. The
// token clear and the activation commit together or not at all. A session
// token is issued so the user is immediately logged in.
func (s *RegistrationService) RegisterByInvitation(ctx context.Context, token, password string) (*models.User, string, error) {
	ctx = ensureContext(ctx)

	invitation, err := s.InvitationByToken(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if invitation.User == nil {
		return nil, "", ErrTokenNotFound
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("registration service: hash password: %w", err)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.FunctionalUnitUser{}).
			Where("invitation_token = ? AND invitation_expires_at > ?", token, now).
			Updates(map[string]any{
				"active":                true,
				"invitation_token":      nil,
				"invitation_expires_at": nil,
				"pin":                   nil,
			})
		if res.Error != nil {
			return fmt.Errorf("consume invitation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTokenNotFound
		}

		return tx.Model(&models.User{}).
			Where("id = ?", invitation.User.ID).
			Updates(map[string]any{
				"password":    hash,
				"active":      true,
				"is_verified": true,
			}).Error
	})
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, "", ErrTokenNotFound
		}
		return nil, "", fmt.Errorf("registration service: register by invitation: %w", err)
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", invitation.User.ID).Error; err != nil {
		return nil, "", fmt.Errorf("registration service: reload user: %w", err)
	}

	signed, err := s.tokens.IssueSession(user.ID, user.Role)
	if err != nil {
		return nil, "", fmt.Errorf("registration service: issue session: %w", err)
	}

	return &user, signed, nil
}

// InviteInput describes an email invitation to join a functional unit.
type InviteInput struct {
	FunctionalUnitID string
	Email            string
	FirstName        string
	LastName         string
}

// InviteByEmail creates (or reuses) an invited user and a pending unit
// association carrying a fresh invitation token. Re-inviting the same
// email to the same unit rotates the token rather than stacking rows.
func (s *RegistrationService) InviteByEmail(ctx context.Context, input InviteInput) (*models.FunctionalUnitUser, string, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.FunctionalUnitID == "" {
		return nil, "", errors.New("registration service: email and unit are required")
	}

	token, err := auth.NewOneTimeToken()
	if err != nil {
		return nil, "", fmt.Errorf("registration service: mint invitation token: %w", err)
	}
	expiresAt := s.now().Add(s.inviteExpiry)

	var assoc models.FunctionalUnitUser
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Where("email = ?", email).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{
				FirstName: strings.TrimSpace(input.FirstName),
				LastName:  strings.TrimSpace(input.LastName),
				Email:     email,
				Avatar:    "default_user.png",
				Role:      models.RoleRegistered,
				Active:    false, // Invited: no password yet
			}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("create invited user: %w", err)
			}
		case err != nil:
			return fmt.Errorf("find user: %w", err)
		case user.HasPassword():
			return ErrEmailTaken
		}

		err = tx.Where("functional_unit_id = ? AND user_id = ? AND active = ?", input.FunctionalUnitID, user.ID, false).
			First(&assoc).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			assoc = models.FunctionalUnitUser{
				FunctionalUnitID:    input.FunctionalUnitID,
				UserID:              user.ID,
				InvitationToken:     &token,
				InvitationExpiresAt: &expiresAt,
			}
			return tx.Create(&assoc).Error
		case err != nil:
			return fmt.Errorf("find pending association: %w", err)
		default:
			// One pending invitation per (unit, email): rotate in place.
			assoc.InvitationToken = &token
			assoc.InvitationExpiresAt = &expiresAt
			return tx.Model(&assoc).Updates(map[string]any{
				"invitation_token":      token,
				"invitation_expires_at": expiresAt,
			}).Error
		}
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("registration service: invite by email: %w", err)
	}

	s.sendMail(ctx, mail.TemplateInvitation, email, s.link("register-invite", token))

	return &assoc, token, nil
}

// IssuePIN attaches a short numeric PIN to a pending association so an
// existing, authenticated user can claim the unit.
func (s *RegistrationService) IssuePIN(ctx context.Context, functionalUnitID, userID string) (string, error) {
	ctx = ensureContext(ctx)

	if functionalUnitID == "" || userID == "" {
		return "", errors.New("registration service: unit and user are required")
	}

	pin, err := generatePIN(pinDigits)
	if err != nil {
		return "", fmt.Errorf("registration service: generate pin: %w", err)
	}
	expiresAt := s.now().Add(s.inviteExpiry)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assoc models.FunctionalUnitUser
		err := tx.Where("functional_unit_id = ? AND user_id = ? AND active = ?", functionalUnitID, userID, false).
			First(&assoc).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			assoc = models.FunctionalUnitUser{
				FunctionalUnitID:    functionalUnitID,
				UserID:              userID,
				PIN:                 &pin,
				InvitationExpiresAt: &expiresAt,
			}
			return tx.Create(&assoc).Error
		case err != nil:
			return err
		default:
			return tx.Model(&assoc).Updates(map[string]any{
				"pin":                   pin,
				"invitation_expires_at": expiresAt,
			}).Error
		}
	})
	if err != nil {
		return "", fmt.Errorf("registration service: issue pin: %w", err)
	}

	return pin, nil
}

func (s *RegistrationService) link(path, token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/api/auth/%s/%s", s.baseURL, path, token)
}

// sendMail dispatches a transactional email. Delivery failures are logged
// and never roll back the state transition that triggered them.
func (s *RegistrationService) sendMail(ctx context.Context, template mail.Template, to, link string) {
	if s.mailer == nil {
		return
	}

	msg := mail.Compose(template, to, link)
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		logger.WithModule("registration").Warn("email delivery failed",
			zap.String("template", string(template)),
			zap.Error(err),
		)
	}
}

func generatePIN(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}
