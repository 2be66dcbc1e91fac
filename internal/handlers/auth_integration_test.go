package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	iauth "github.com/nidohq/nido/internal/auth"
	"github.com/nidohq/nido/internal/middleware"
	"github.com/nidohq/nido/internal/models"
	"github.com/nidohq/nido/internal/services"
)

type fixture struct {
	router        *gin.Engine
	db            *gorm.DB
	jwt           *iauth.JWTService
	registrations *services.RegistrationService
	recovery      *services.RecoveryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.FunctionalUnit{}, &models.FunctionalUnitUser{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:     "test-secret",
		Issuer:     "nido-test",
		SessionTTL: time.Hour,
	})
	require.NoError(t, err)

	registrations, err := services.NewRegistrationService(db, jwt, nil)
	require.NoError(t, err)
	recovery, err := services.NewRecoveryService(db, nil)
	require.NoError(t, err)
	users, err := services.NewUserService(db)
	require.NoError(t, err)

	authHandler := NewAuthHandler(registrations)
	passwordHandler := NewPasswordHandler(recovery)
	userHandler := NewUserHandler(users)

	router := gin.New()
	api := router.Group("/api")
	authGroup := api.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/verify/:token", authHandler.Verify)
	authGroup.POST("/resend", authHandler.Resend)
	authGroup.POST("/register-pin", middleware.Auth(jwt, db), authHandler.RegisterPIN)
	authGroup.GET("/register-invite/:token", authHandler.InvitationShow)
	authGroup.POST("/register-invite/:token", authHandler.InvitationRedeem)
	authGroup.POST("/recover", passwordHandler.Recover)
	authGroup.GET("/reset/:token", passwordHandler.ResetShow)
	authGroup.POST("/reset/:token", passwordHandler.Reset)
	api.GET("/users", userHandler.List)
	api.GET("/users/:id", userHandler.Get)

	return &fixture{router: router, db: db, jwt: jwt, registrations: registrations, recovery: recovery}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func TestRegisterEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"first_name": "Nora",
		"last_name":  "Klein",
		"email":      "nora@x.com",
		"password":   "password123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	data := decodeData(t, rec)
	require.Equal(t, "nora@x.com", data["email"])
	require.Equal(t, false, data["is_verified"])
	require.Equal(t, "/uploads/users/default_user.png", data["avatar"])
	require.NotContains(t, rec.Body.String(), "verification_token")

	// Duplicate registration conflicts.
	rec = f.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"email":    "NORA@x.com",
		"password": "password123",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"email":    "not-an-email",
		"password": "short",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t)

	user, err := f.registrations.Register(context.Background(), services.RegisterInput{
		Email: "verify@x.com", Password: "password123",
	})
	require.NoError(t, err)
	token := *user.VerificationToken

	rec := f.do(t, http.MethodGet, "/api/auth/verify/"+token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Equal(t, true, data["is_verified"])

	// The token is gone once consumed.
	rec = f.do(t, http.MethodGet, "/api/auth/verify/"+token, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginEndpoint(t *testing.T) {
	f := newFixture(t)

	_, err := f.registrations.Register(context.Background(), services.RegisterInput{
		Email: "login@x.com", Password: "password123",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "login@x.com", "password": "password123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.NotEmpty(t, data["token"])

	claims, err := f.jwt.VerifySession(data["token"].(string))
	require.NoError(t, err)
	require.Equal(t, models.RoleRegistered, claims.Role)

	// Wrong password and unknown user give the same generic 401.
	wrong := f.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "login@x.com", "password": "nope-nope-nope",
	}, nil)
	missing := f.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "ghost@x.com", "password": "password123",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, http.StatusUnauthorized, missing.Code)
	require.JSONEq(t, wrong.Body.String(), missing.Body.String())
}

func TestRegisterPINEndpoint(t *testing.T) {
	f := newFixture(t)

	user, err := f.registrations.Register(context.Background(), services.RegisterInput{
		Email: "pin@x.com", Password: "password123",
	})
	require.NoError(t, err)

	unit := &models.FunctionalUnit{AdministrableID: "11111111-1111-1111-1111-111111111111", Name: "2A", Number: 201}
	require.NoError(t, f.db.Create(unit).Error)
	pin, err := f.registrations.IssuePIN(context.Background(), unit.ID, user.ID)
	require.NoError(t, err)

	session, err := f.jwt.IssueSession(user.ID, user.Role)
	require.NoError(t, err)
	authz := map[string]string{"Authorization": "Bearer " + session}

	// No session at all is a 401.
	rec := f.do(t, http.MethodPost, "/api/auth/register-pin", gin.H{"pin": pin}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// A wrong PIN yields an empty 422.
	rec = f.do(t, http.MethodPost, "/api/auth/register-pin", gin.H{"pin": "999999"}, authz)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/auth/register-pin", gin.H{"pin": pin}, authz)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Equal(t, true, data["active"])

	// Redeeming the same PIN again fails.
	rec = f.do(t, http.MethodPost, "/api/auth/register-pin", gin.H{"pin": pin}, authz)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInvitationEndpoints(t *testing.T) {
	f := newFixture(t)

	unit := &models.FunctionalUnit{AdministrableID: "11111111-1111-1111-1111-111111111111", Name: "3C", Number: 303}
	require.NoError(t, f.db.Create(unit).Error)
	_, token, err := f.registrations.InviteByEmail(context.Background(), services.InviteInput{
		FunctionalUnitID: unit.ID,
		Email:            "invitee@x.com",
	})
	require.NoError(t, err)

	// Unknown token is a 404, a valid one shows user plus unit.
	rec := f.do(t, http.MethodGet, "/api/auth/register-invite/never-issued", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/auth/register-invite/"+token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.NotNil(t, data["user"])
	require.NotNil(t, data["functional_unit"])

	// Mismatched confirmation never reaches the service.
	rec = f.do(t, http.MethodPost, "/api/auth/register-invite/"+token, gin.H{
		"password": "password123", "confirm_password": "different123",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/register-invite/"+token, gin.H{
		"password": "password123", "confirm_password": "password123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	require.NotEmpty(t, data["token"])

	claims, err := f.jwt.VerifySession(data["token"].(string))
	require.NoError(t, err)
	require.NotEmpty(t, claims.UserID)

	// The invitation is single use.
	rec = f.do(t, http.MethodPost, "/api/auth/register-invite/"+token, gin.H{
		"password": "password123", "confirm_password": "password123",
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvitationExpiredGives204(t *testing.T) {
	f := newFixture(t)

	unit := &models.FunctionalUnit{AdministrableID: "11111111-1111-1111-1111-111111111111", Name: "5D", Number: 504}
	require.NoError(t, f.db.Create(unit).Error)
	_, token, err := f.registrations.InviteByEmail(context.Background(), services.InviteInput{
		FunctionalUnitID: unit.ID,
		Email:            "slow@x.com",
	})
	require.NoError(t, err)

	// Force the stored expiry into the past.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.db.Model(&models.FunctionalUnitUser{}).
		Where("invitation_token = ?", token).
		Update("invitation_expires_at", past).Error)

	rec := f.do(t, http.MethodGet, "/api/auth/register-invite/"+token, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
}
