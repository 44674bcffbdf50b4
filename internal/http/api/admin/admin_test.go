package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/filehaven/filehaven/internal/config"
	"github.com/filehaven/filehaven/internal/models"
	"github.com/filehaven/filehaven/internal/quota"
	"github.com/filehaven/filehaven/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupAdminRouter(t *testing.T) (*gin.Engine, *gorm.DB, config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:admin_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.User{}, &models.File{}, &models.UploadTicket{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	cfg := config.Config{JWT: config.JWTConfig{Secret: "test-secret", ExpiryHours: 1}}
	engine := gin.New()
	RegisterAdminRoutes(engine, conn, cfg, quota.NewLedger(conn))
	return engine, conn, cfg
}

func seedUser(t *testing.T, conn *gorm.DB, username, role string, used, limit int64) models.User {
	t.Helper()
	hash, errHash := security.HashPassword("secret123")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	now := time.Now().UTC()
	user := models.User{
		Username:          username,
		Password:          hash,
		Role:              role,
		StorageUsedBytes:  used,
		StorageLimitBytes: limit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user %s: %v", username, errCreate)
	}
	return user
}

func tokenFor(t *testing.T, cfg config.Config, user models.User) string {
	t.Helper()
	token, errToken := security.GenerateToken(cfg.JWT.Secret, user.ID, user.Username, user.Role, time.Hour)
	if errToken != nil {
		t.Fatalf("token: %v", errToken)
	}
	return token
}

func doAdminJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var errMarshal error
		payload, errMarshal = json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesRejectNonAdmin(t *testing.T) {
	engine, conn, cfg := setupAdminRouter(t)
	user := seedUser(t, conn, "alice", models.RoleUser, 0, 1000)

	rec := doAdminJSON(t, engine, http.MethodGet, "/api/admin/users", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}

	rec = doAdminJSON(t, engine, http.MethodGet, "/api/admin/users", tokenFor(t, cfg, user), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user token status = %d", rec.Code)
	}
}

func TestAdminRoleIsCheckedAgainstDatabase(t *testing.T) {
	engine, conn, cfg := setupAdminRouter(t)
	admin := seedUser(t, conn, "root", models.RoleAdmin, 0, 1000)
	token := tokenFor(t, cfg, admin)

	rec := doAdminJSON(t, engine, http.MethodGet, "/api/admin/users", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list status = %d", rec.Code)
	}

	// Demote after the token was issued; the token role claim must not
	// keep the door open.
	if errDemote := conn.Model(&models.User{}).Where("id = ?", admin.ID).
		Update("role", models.RoleUser).Error; errDemote != nil {
		t.Fatalf("demote: %v", errDemote)
	}
	rec = doAdminJSON(t, engine, http.MethodGet, "/api/admin/users", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("demoted admin status = %d", rec.Code)
	}
}

func TestAdminListUsersWithSearch(t *testing.T) {
	engine, conn, cfg := setupAdminRouter(t)
	admin := seedUser(t, conn, "root", models.RoleAdmin, 0, 1000)
	seedUser(t, conn, "alice", models.RoleUser, 0, 1000)
	seedUser(t, conn, "bob", models.RoleUser, 0, 1000)
	token := tokenFor(t, cfg, admin)

	rec := doAdminJSON(t, engine, http.MethodGet, "/api/admin/users", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &listed); errDecode != nil || len(listed.Users) != 3 {
		t.Fatalf("bad list response: %s", rec.Body.String())
	}

	rec = doAdminJSON(t, engine, http.MethodGet, "/api/admin/users?search=ALI", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &listed); errDecode != nil {
		t.Fatalf("decode search response: %v", errDecode)
	}
	if len(listed.Users) != 1 || listed.Users[0].Username != "alice" {
		t.Fatalf("unexpected search result: %s", rec.Body.String())
	}
}

func TestAdminSuspendAndActivateUser(t *testing.T) {
	engine, conn, cfg := setupAdminRouter(t)
	admin := seedUser(t, conn, "root", models.RoleAdmin, 0, 1000)
	target := seedUser(t, conn, "alice", models.RoleUser, 0, 1000)
	token := tokenFor(t, cfg, admin)

	rec := doAdminJSON(t, engine, http.MethodPut, fmt.Sprintf("/api/admin/users/%d/status", target.ID), token, gin.H{"suspended": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("suspend status = %d, body %s", rec.Code, rec.Body.String())
	}
	var reloaded models.User
	if errFind := conn.First(&reloaded, target.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if !reloaded.Suspended {
		t.Fatalf("expected user suspended")
	}

	rec = doAdminJSON(t, engine, http.MethodPut, fmt.Sprintf("/api/admin/users/%d/status", target.ID), token, gin.H{"suspended": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d", rec.Code)
	}
	if errFind := conn.First(&reloaded, target.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.Suspended {
		t.Fatalf("expected user active")
	}

	rec = doAdminJSON(t, engine, http.MethodPut, fmt.Sprintf("/api/admin/users/%d/status", target.ID), token, gin.H{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing flag status = %d", rec.Code)
	}

	rec = doAdminJSON(t, engine, http.MethodPut, "/api/admin/users/999/status", token, gin.H{"suspended": true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user status = %d", rec.Code)
	}
}

func TestAdminStats(t *testing.T) {
	engine, conn, cfg := setupAdminRouter(t)
	admin := seedUser(t, conn, "root", models.RoleAdmin, 0, 1000)
	owner := seedUser(t, conn, "alice", models.RoleUser, 300, 1000)
	for i, size := range []int64{100, 200} {
		file := models.File{
			OwnerID:   owner.ID,
			ObjectKey: fmt.Sprintf("users/%d/obj-%d", owner.ID, i),
			Filename:  fmt.Sprintf("f%d", i),
			MediaType: "image/png",
			SizeBytes: size,
			CreatedAt: time.Now().UTC(),
		}
		if errCreate := conn.Create(&file).Error; errCreate != nil {
			t.Fatalf("create file: %v", errCreate)
		}
	}

	rec := doAdminJSON(t, engine, http.MethodGet, "/api/admin/stats", tokenFor(t, cfg, admin), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats struct {
		TotalUsers        int64 `json:"total_users"`
		TotalFiles        int64 `json:"total_files"`
		TotalStorageBytes int64 `json:"total_storage_bytes"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &stats); errDecode != nil {
		t.Fatalf("decode stats: %v", errDecode)
	}
	if stats.TotalUsers != 2 || stats.TotalFiles != 2 || stats.TotalStorageBytes != 300 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAdminReconcileEndpoint(t *testing.T) {
	engine, conn, cfg := setupAdminRouter(t)
	admin := seedUser(t, conn, "root", models.RoleAdmin, 0, 1000)
	owner := seedUser(t, conn, "alice", models.RoleUser, 500, 1000)
	file := models.File{
		OwnerID:   owner.ID,
		ObjectKey: fmt.Sprintf("users/%d/obj", owner.ID),
		Filename:  "f",
		MediaType: "image/png",
		SizeBytes: 120,
		CreatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&file).Error; errCreate != nil {
		t.Fatalf("create file: %v", errCreate)
	}
	token := tokenFor(t, cfg, admin)

	rec := doAdminJSON(t, engine, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/reconcile", owner.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d, body %s", rec.Code, rec.Body.String())
	}
	var reloaded models.User
	if errFind := conn.First(&reloaded, owner.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.StorageUsedBytes != 120 {
		t.Fatalf("expected reconciled counter 120, got %d", reloaded.StorageUsedBytes)
	}

	rec = doAdminJSON(t, engine, http.MethodPost, "/api/admin/users/999/reconcile", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user reconcile status = %d", rec.Code)
	}
}
