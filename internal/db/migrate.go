package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/filehaven/filehaven/internal/models"
	"github.com/filehaven/filehaven/internal/security"
	"gorm.io/gorm"
)

// Migrate applies schema migrations for all models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.User{},
		&models.File{},
		&models.UploadTicket{},
	)
}

// SeedAdmin creates the bootstrap admin account when no admin exists.
//
// Registration never assigns the admin role, so the first admin has to
// come from configuration at migration time.
func SeedAdmin(conn *gorm.DB, username, password string, storageLimitBytes int64) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil
	}

	var existing models.User
	errFind := conn.Where("role = ?", models.RoleAdmin).First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query admin: %w", errFind)
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("db: hash admin password: %w", errHash)
	}

	now := time.Now().UTC()
	admin := models.User{
		Username:          username,
		Password:          hash,
		Role:              models.RoleAdmin,
		StorageLimitBytes: storageLimitBytes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("db: seed admin: %w", errCreate)
	}
	return nil
}
