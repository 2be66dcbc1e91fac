package database

import (
	"gorm.io/gorm"

	"github.com/nidohq/nido/internal/models"
	"github.com/nidohq/nido/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.FunctionalUnit{},
		&models.FunctionalUnitUser{},
	)
}

// SeedData provisions the default administrator and a registered test
// account when they are missing.
func SeedData(db *gorm.DB) error {
	seeds := []struct {
		firstName string
		lastName  string
		email     string
		role      string
	}{
		{"Admin", "Admin", "admin@nido.app", models.RoleAdmin},
		{"Registered", "Registered", "user@nido.app", models.RoleRegistered},
	}

	for _, seed := range seeds {
		hash, err := crypto.HashPassword("password")
		if err != nil {
			return err
		}

		user := models.User{
			FirstName:  seed.firstName,
			LastName:   seed.lastName,
			Email:      seed.email,
			Role:       seed.role,
			Password:   &hash,
			Avatar:     "default_user.png",
			Active:     true,
			IsVerified: true,
		}

		if err := db.Where(models.User{Email: seed.email}).Attrs(user).FirstOrCreate(&models.User{}).Error; err != nil {
			return err
		}
	}

	return nil
}
