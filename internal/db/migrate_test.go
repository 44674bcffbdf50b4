package db

import (
	"testing"

	"github.com/filehaven/filehaven/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestMigrateCreatesSchema(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, column := range []string{"storage_used_bytes", "storage_limit_bytes", "role", "suspended"} {
		if !conn.Migrator().HasColumn("users", column) {
			t.Fatalf("users missing column %s", column)
		}
	}
	for _, column := range []string{"owner_id", "object_key", "size_bytes"} {
		if !conn.Migrator().HasColumn("files", column) {
			t.Fatalf("files missing column %s", column)
		}
	}
	if !conn.Migrator().HasTable("upload_tickets") {
		t.Fatalf("upload_tickets table missing")
	}
}

func TestSeedAdminIsIdempotent(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	if errSeed := SeedAdmin(conn, "root", "changeme", 1<<30); errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}
	if errSeed := SeedAdmin(conn, "root", "changeme", 1<<30); errSeed != nil {
		t.Fatalf("second seed: %v", errSeed)
	}

	var count int64
	conn.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one admin, got %d", count)
	}
}

func TestSeedAdminSkipsWithoutCredentials(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	if errSeed := SeedAdmin(conn, "", "", 1<<30); errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}
	var count int64
	conn.Model(&models.User{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no users, got %d", count)
	}
}
