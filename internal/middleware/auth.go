package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/nidohq/nido/internal/auth"
	"github.com/nidohq/nido/internal/models"
	apperrors "github.com/nidohq/nido/pkg/errors"
	"github.com/nidohq/nido/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
	CtxUserKey   = "currentUser"
)

// Auth enforces JWT session authentication. The session's user is loaded
// from the database on every request so revoked or deactivated accounts
// lose access as soon as the row changes, not when the token expires.
func Auth(jwt *iauth.JWTService, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			unauthenticated(c)
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.VerifySession(token)
		if err != nil {
			unauthenticated(c)
			return
		}

		var user models.User
		err = db.WithContext(c.Request.Context()).First(&user, "id = ?", claims.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			unauthenticated(c)
			return
		}
		if err != nil {
			response.Error(c, apperrors.ErrStoreUnavailable.WithInternal(err))
			c.Abort()
			return
		}
		if !user.Active {
			unauthenticated(c)
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxUserKey, &user)

		c.Next()
	}
}

// Normalise all authentication failures to 401.
func unauthenticated(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, apperrors.ErrUnauthenticated)
	c.Abort()
}

// CurrentUser retrieves the authenticated user attached by Auth.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}
