package handlers

import (
	"net/http"

	"github.com/filehaven/filehaven/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StatsHandler serves aggregate system counts.
type StatsHandler struct {
	db *gorm.DB
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

// statsResponse defines the aggregate counts payload.
type statsResponse struct {
	TotalUsers        int64 `json:"total_users"`
	TotalFiles        int64 `json:"total_files"`
	TotalStorageBytes int64 `json:"total_storage_bytes"`
}

// Stats returns system-wide totals.
func (h *StatsHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	var out statsResponse
	if errCount := h.db.WithContext(ctx).Model(&models.User{}).Count(&out.TotalUsers).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if errCount := h.db.WithContext(ctx).Model(&models.File{}).Count(&out.TotalFiles).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if errSum := h.db.WithContext(ctx).Model(&models.File{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&out.TotalStorageBytes).Error; errSum != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, out)
}
