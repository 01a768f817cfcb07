package services

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"github.com/example/stellarpay/internal/models"
	"github.com/example/stellarpay/internal/utils"
)

// EnsureAdminUser creates the bootstrap admin account when it does not exist.
// An existing account is left untouched, including its password.
func EnsureAdminUser(db *gorm.DB, email, password string) error {
	if email == "" || password == "" {
		log.Println("[Admin] bootstrap credentials not configured, skipping admin seed")
		return nil
	}

	var existing models.AdminUser
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	user := models.AdminUser{Email: email, PasswordHash: hash}
	if err := db.Create(&user).Error; err != nil {
		return err
	}

	log.Printf("[Admin] seeded admin account %s", email)
	return nil
}
