package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nidohq/nido/internal/middleware"
	"github.com/nidohq/nido/internal/services"
	appErrors "github.com/nidohq/nido/pkg/errors"
	"github.com/nidohq/nido/pkg/metrics"
	"github.com/nidohq/nido/pkg/response"
)

// AuthHandler manages the registration and login flows.
type AuthHandler struct {
	registrations *services.RegistrationService
}

func NewAuthHandler(registrations *services.RegistrationService) *AuthHandler {
	return &AuthHandler{registrations: registrations}
}

type registerRequest struct {
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	Phone     string `json:"phone" validate:"max=32"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.registrations.Register(requestContext(c), services.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Phone:     req.Phone,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			response.Error(c, appErrors.ErrConflict)
			return
		}
		response.Error(c, err)
		return
	}

	metrics.Registrations.WithLabelValues("direct").Inc()
	response.Success(c, http.StatusCreated, userResource(user))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, token, err := h.registrations.Login(requestContext(c), req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			response.Error(c, appErrors.ErrInvalidCredentials)
		case errors.Is(err, services.ErrNotVerified):
			response.Error(c, appErrors.New("EMAIL_NOT_VERIFIED", "Email address not verified", http.StatusUnauthorized))
		default:
			response.Error(c, err)
		}
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user":  userResource(user),
	})
}

// GET /api/auth/verify/:token
func (h *AuthHandler) Verify(c *gin.Context) {
	user, err := h.registrations.VerifyEmail(requestContext(c), c.Param("token"))
	if err != nil {
		metrics.TokenConsumptions.WithLabelValues("verification", "failure").Inc()
		writeTokenError(c, err)
		return
	}

	metrics.TokenConsumptions.WithLabelValues("verification", "success").Inc()
	response.Success(c, http.StatusOK, userResource(user))
}

type resendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/resend
func (h *AuthHandler) Resend(c *gin.Context) {
	var req resendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.registrations.ResendVerification(requestContext(c), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			response.Error(c, appErrors.ErrNotFound)
		case errors.Is(err, services.ErrAlreadyVerified):
			response.Error(c, appErrors.New("ALREADY_VERIFIED", "Email address already verified", http.StatusConflict))
		default:
			response.Error(c, err)
		}
		return
	}

	response.Success(c, http.StatusOK, userResource(user))
}

type registerPINRequest struct {
	PIN string `json:"pin" validate:"required,min=4,max=12"`
}

// POST /api/auth/register-pin
// Requires an authenticated session; the PIN selects a pending unit
// association for that user. Any failure to match collapses into an
// empty 422 so the PIN cannot be probed.
func (h *AuthHandler) RegisterPIN(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthenticated)
		return
	}

	var req registerPINRequest
	if !bindAndValidate(c, &req) {
		return
	}

	assoc, err := h.registrations.RegisterByPIN(requestContext(c), user.ID, req.PIN)
	if err != nil {
		if errors.Is(err, services.ErrPINNotFound) {
			metrics.TokenConsumptions.WithLabelValues("pin", "failure").Inc()
			response.Empty(c, http.StatusUnprocessableEntity)
			return
		}
		response.Error(c, err)
		return
	}

	metrics.TokenConsumptions.WithLabelValues("pin", "success").Inc()
	metrics.Registrations.WithLabelValues("pin").Inc()
	response.Success(c, http.StatusOK, gin.H{
		"functional_unit": assoc.FunctionalUnit,
		"active":          assoc.Active,
	})
}

// GET /api/auth/register-invite/:token
func (h *AuthHandler) InvitationShow(c *gin.Context) {
	invitation, err := h.registrations.InvitationByToken(requestContext(c), c.Param("token"))
	if err != nil {
		writeTokenError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":            userResource(invitation.User),
		"functional_unit": invitation.FunctionalUnit,
	})
}

type invitationRedeemRequest struct {
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// POST /api/auth/register-invite/:token
func (h *AuthHandler) InvitationRedeem(c *gin.Context) {
	var req invitationRedeemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, token, err := h.registrations.RegisterByInvitation(requestContext(c), c.Param("token"), req.Password)
	if err != nil {
		metrics.TokenConsumptions.WithLabelValues("invitation", "failure").Inc()
		writeTokenError(c, err)
		return
	}

	metrics.TokenConsumptions.WithLabelValues("invitation", "success").Inc()
	metrics.Registrations.WithLabelValues("invitation").Inc()
	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user":  userResource(user),
	})
}

// writeTokenError maps the three one-time token outcomes onto the wire:
// unknown token 404, expired token an empty 204, anything else as-is.
func writeTokenError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTokenNotFound):
		response.Error(c, appErrors.ErrNotFound)
	case errors.Is(err, services.ErrTokenExpired):
		response.Empty(c, http.StatusNoContent)
	default:
		response.Error(c, err)
	}
}
