package front

import (
	"net/http"
	"strings"

	"github.com/filehaven/filehaven/internal/config"
	"github.com/filehaven/filehaven/internal/http/api/front/handlers"
	"github.com/filehaven/filehaven/internal/lifecycle"
	"github.com/filehaven/filehaven/internal/models"
	"github.com/filehaven/filehaven/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers public and authenticated user routes.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, controller *lifecycle.Controller) {
	if r == nil || db == nil {
		return
	}

	auth := r.Group("/api/auth")
	authHandler := handlers.NewAuthHandler(db, cfg.JWT, cfg.Storage.DefaultLimitBytes)
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", authHandler.Logout)

	files := r.Group("/api/files")
	files.Use(userAuthMiddleware(db, cfg.JWT))

	filesHandler := handlers.NewFilesHandler(db, controller)
	files.GET("", filesHandler.List)
	files.GET("/quota", filesHandler.Quota)
	files.POST("/uploads", filesHandler.RequestUpload)
	files.POST("/uploads/:ticket/complete", filesHandler.CompleteUpload)
	files.DELETE("/:id", filesHandler.Delete)
}

// userAuthMiddleware validates user JWTs and loads the user into context.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if user.Suspended {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user suspended"})
			return
		}

		c.Set("userID", user.ID)
		c.Next()
	}
}
