package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nidohq/nido/internal/services"
	"github.com/nidohq/nido/pkg/metrics"
	"github.com/nidohq/nido/pkg/response"
)

// PasswordHandler serves the password recovery flow.
type PasswordHandler struct {
	recovery *services.RecoveryService
}

func NewPasswordHandler(recovery *services.RecoveryService) *PasswordHandler {
	return &PasswordHandler{recovery: recovery}
}

type recoverRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/recover
// The response is identical whether or not the email maps to an account.
func (h *PasswordHandler) Recover(c *gin.Context) {
	var req recoverRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.recovery.Recover(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "If the email exists, a recovery link has been sent",
	})
}

// GET /api/auth/reset/:token
func (h *PasswordHandler) ResetShow(c *gin.Context) {
	user, err := h.recovery.ResetLookup(requestContext(c), c.Param("token"))
	if err != nil {
		writeTokenError(c, err)
		return
	}

	response.Success(c, http.StatusOK, userResource(user))
}

type resetRequest struct {
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// POST /api/auth/reset/:token
// The password is replaced and the token consumed in one update. No
// session is issued; the user logs in again with the new password.
func (h *PasswordHandler) Reset(c *gin.Context) {
	var req resetRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.recovery.ResetPassword(requestContext(c), c.Param("token"), req.Password)
	if err != nil {
		metrics.TokenConsumptions.WithLabelValues("reset", "failure").Inc()
		writeTokenError(c, err)
		return
	}

	metrics.TokenConsumptions.WithLabelValues("reset", "success").Inc()
	response.Success(c, http.StatusOK, userResource(user))
}
