package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/nidohq/nido/internal/app"
	iauth "github.com/nidohq/nido/internal/auth"
	"github.com/nidohq/nido/internal/handlers"
	"github.com/nidohq/nido/internal/middleware"
	"github.com/nidohq/nido/internal/services"
	"github.com/nidohq/nido/pkg/mail"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, mailer mail.Mailer) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	registrations, err := services.NewRegistrationService(db, jwt, mailer,
		services.WithRegistrationBaseURL(cfg.Server.BaseURL),
		services.WithInviteExpiry(cfg.Auth.InvitationTTL),
		services.WithRequireVerifiedLogin(cfg.Auth.RequireVerifiedLogin),
	)
	if err != nil {
		return nil, err
	}

	recovery, err := services.NewRecoveryService(db, mailer,
		services.WithRecoveryBaseURL(cfg.Server.BaseURL),
		services.WithResetExpiry(cfg.Auth.ResetTTL),
	)
	if err != nil {
		return nil, err
	}

	users, err := services.NewUserService(db)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	// Health endpoint (public)
	r.GET("/health", handlers.Health())

	api := r.Group("/api")
	registerAuthRoutes(api, authRouteDeps{
		AuthHandler:     handlers.NewAuthHandler(registrations),
		PasswordHandler: handlers.NewPasswordHandler(recovery),
		RequireAuth:     middleware.Auth(jwt, db),
	})
	registerUserRoutes(api, handlers.NewUserHandler(users))

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
