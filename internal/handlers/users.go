package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nidohq/nido/internal/models"
	"github.com/nidohq/nido/internal/services"
	appErrors "github.com/nidohq/nido/pkg/errors"
	"github.com/nidohq/nido/pkg/response"
)

// UserHandler serves the read-only user listing endpoints.
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// userView is the public projection of a user. Credential columns and
// pending tokens never leave the service boundary.
type userView struct {
	ID         string `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Avatar     string `json:"avatar"`
	Role       string `json:"role"`
	Active     bool   `json:"active"`
	IsVerified bool   `json:"is_verified"`
	Endpoint   string `json:"endpoint"`
}

func userResource(user *models.User) userView {
	avatar := user.Avatar
	if avatar == "" {
		avatar = "default_user.png"
	}
	return userView{
		ID:         user.ID,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Email:      user.Email,
		Phone:      user.Phone,
		Avatar:     "/uploads/users/" + avatar,
		Role:       user.Role,
		Active:     user.Active,
		IsVerified: user.IsVerified,
		Endpoint:   "/api/users/" + user.ID,
	}
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]userView, 0, len(users))
	for i := range users {
		views = append(views, userResource(&users[i]))
	}

	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{
		URL:   c.Request.URL.Path,
		Total: len(views),
	})
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			response.Error(c, appErrors.ErrNotFound)
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, userResource(user))
}
