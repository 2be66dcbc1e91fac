package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nidohq/nido/internal/auth"
	"github.com/nidohq/nido/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.FunctionalUnit{},
		&models.FunctionalUnitUser{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func newTestJWT(t *testing.T, clock func() time.Time) *auth.JWTService {
	t.Helper()

	svc, err := auth.NewJWTService(auth.JWTConfig{
		Secret:     "test-secret",
		Issuer:     "nido-test",
		SessionTTL: time.Hour,
		Clock:      clock,
	})
	require.NoError(t, err)
	return svc
}

func createUnit(t *testing.T, db *gorm.DB) *models.FunctionalUnit {
	t.Helper()

	unit := &models.FunctionalUnit{
		AdministrableID: "11111111-1111-1111-1111-111111111111",
		Name:            "4B",
		Floor:           "4",
		Number:          402,
	}
	require.NoError(t, db.Create(unit).Error)
	return unit
}
