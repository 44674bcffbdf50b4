package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/filehaven/filehaven/internal/lifecycle"
	"github.com/filehaven/filehaven/internal/models"
	"github.com/filehaven/filehaven/internal/objectstore"
	"github.com/filehaven/filehaven/internal/quota"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// FilesHandler handles file listing and the upload/delete lifecycle.
type FilesHandler struct {
	db         *gorm.DB
	controller *lifecycle.Controller
}

// NewFilesHandler constructs a FilesHandler.
func NewFilesHandler(db *gorm.DB, controller *lifecycle.Controller) *FilesHandler {
	return &FilesHandler{db: db, controller: controller}
}

// fileResponse defines the JSON shape of one file record.
type fileResponse struct {
	ID        uint64 `json:"id"`
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

func toFileResponse(f models.File) fileResponse {
	return fileResponse{
		ID:        f.ID,
		Filename:  f.Filename,
		MediaType: f.MediaType,
		SizeBytes: f.SizeBytes,
		URL:       f.URL,
		CreatedAt: f.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// List returns the user's files, newest first.
func (h *FilesHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var files []models.File
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("owner_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&files).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	c.JSON(http.StatusOK, gin.H{"files": out})
}

// Quota returns the user's storage usage and limit.
func (h *FilesHandler) Quota(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"storage_used_bytes":      user.StorageUsedBytes,
		"storage_limit_bytes":     user.StorageLimitBytes,
		"storage_available_bytes": user.StorageAvailableBytes(),
	})
}

// requestUploadRequest defines the request body for upload authorization.
type requestUploadRequest struct {
	SizeBytes int64 `json:"size_bytes"`
}

// RequestUpload pre-checks quota and issues an upload ticket.
func (h *FilesHandler) RequestUpload(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body requestUploadRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.SizeBytes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid size"})
		return
	}

	issued, errRequest := h.controller.RequestUpload(c.Request.Context(), userID, body.SizeBytes)
	if errRequest != nil {
		respondLifecycleError(c, errRequest)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"ticket_id":  issued.ID,
		"upload_url": issued.UploadURL,
		"object_key": issued.ObjectKey,
		"expires_at": issued.ExpiresAt,
	})
}

// completeUploadRequest defines the request body for completion.
type completeUploadRequest struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// CompleteUpload registers a finished upload for the given ticket.
func (h *FilesHandler) CompleteUpload(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ticketID := c.Param("ticket")
	var body completeUploadRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Filename == "" || body.MediaType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing filename or media type"})
		return
	}

	file, errComplete := h.controller.CompleteUpload(c.Request.Context(), userID, ticketID, body.Filename, body.MediaType, body.SizeBytes)
	if errComplete != nil {
		respondLifecycleError(c, errComplete)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"file": toFileResponse(file)})
}

// Delete removes one of the user's files.
func (h *FilesHandler) Delete(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	if errDelete := h.controller.DeleteFile(c.Request.Context(), userID, fileID); errDelete != nil {
		respondLifecycleError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// respondLifecycleError maps controller and ledger errors to HTTP.
func respondLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		c.JSON(http.StatusForbidden, gin.H{"error": "quota exceeded"})
	case errors.Is(err, quota.ErrFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	case errors.Is(err, quota.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, lifecycle.ErrTicketInvalid):
		c.JSON(http.StatusNotFound, gin.H{"error": "upload ticket not found"})
	case errors.Is(err, lifecycle.ErrTicketExpired):
		c.JSON(http.StatusGone, gin.H{"error": "upload ticket expired"})
	case errors.Is(err, lifecycle.ErrUploadMissing):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no uploaded object for ticket"})
	case objectstore.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage backend unavailable"})
	default:
		var backendErr *objectstore.BackendError
		if errors.As(err, &backendErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "storage backend failure"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}
