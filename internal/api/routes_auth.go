package api

import (
	"github.com/gin-gonic/gin"

	"github.com/nidohq/nido/internal/handlers"
)

type authRouteDeps struct {
	AuthHandler     *handlers.AuthHandler
	PasswordHandler *handlers.PasswordHandler
	RequireAuth     gin.HandlerFunc
}

func registerAuthRoutes(api *gin.RouterGroup, deps authRouteDeps) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", deps.AuthHandler.Register)
		auth.POST("/login", deps.AuthHandler.Login)
		auth.GET("/verify/:token", deps.AuthHandler.Verify)
		auth.POST("/resend", deps.AuthHandler.Resend)
		auth.GET("/register-invite/:token", deps.AuthHandler.InvitationShow)
		auth.POST("/register-invite/:token", deps.AuthHandler.InvitationRedeem)
		auth.POST("/recover", deps.PasswordHandler.Recover)
		auth.GET("/reset/:token", deps.PasswordHandler.ResetShow)
		auth.POST("/reset/:token", deps.PasswordHandler.Reset)

		// PIN registration binds to the caller's session.
		auth.POST("/register-pin", deps.RequireAuth, deps.AuthHandler.RegisterPIN)
	}
}
