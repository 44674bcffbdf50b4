package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	dbutil "github.com/filehaven/filehaven/internal/db"
	"github.com/filehaven/filehaven/internal/models"
	"github.com/filehaven/filehaven/internal/quota"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UsersHandler manages admin user endpoints.
type UsersHandler struct {
	db     *gorm.DB
	ledger *quota.Ledger
}

// NewUsersHandler constructs a UsersHandler.
func NewUsersHandler(db *gorm.DB, ledger *quota.Ledger) *UsersHandler {
	return &UsersHandler{db: db, ledger: ledger}
}

// userResponse defines the admin view of one user.
type userResponse struct {
	ID                uint64    `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	Role              string    `json:"role"`
	Suspended         bool      `json:"suspended"`
	StorageUsedBytes  int64     `json:"storage_used_bytes"`
	StorageLimitBytes int64     `json:"storage_limit_bytes"`
	CreatedAt         time.Time `json:"created_at"`
}

// List returns all users, newest first, with optional username search.
func (h *UsersHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+search+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "username"), pattern)
	}

	var users []models.User
	if errFind := q.Order("created_at DESC, id DESC").Find(&users).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{
			ID:                u.ID,
			Username:          u.Username,
			Email:             u.Email,
			Role:              u.Role,
			Suspended:         u.Suspended,
			StorageUsedBytes:  u.StorageUsedBytes,
			StorageLimitBytes: u.StorageLimitBytes,
			CreatedAt:         u.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// updateStatusRequest defines the request body for suspend/activate.
type updateStatusRequest struct {
	Suspended *bool `json:"suspended"`
}

// UpdateStatus suspends or activates a user account.
func (h *UsersHandler) UpdateStatus(c *gin.Context) {
	userID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var body updateStatusRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.Suspended == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing suspended flag"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&user).Updates(map[string]any{
		"suspended":  *body.Suspended,
		"updated_at": time.Now().UTC(),
	}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	message := "user activated"
	if *body.Suspended {
		message = "user suspended"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "id": user.ID, "suspended": *body.Suspended})
}

// Reconcile runs the quota reconciliation pass for one user.
func (h *UsersHandler) Reconcile(c *gin.Context) {
	userID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	report, errReconcile := h.ledger.Reconcile(c.Request.Context(), userID)
	if errReconcile != nil {
		if errors.Is(errReconcile, quota.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}
