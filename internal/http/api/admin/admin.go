package admin

import (
	"net/http"
	"strings"

	"github.com/filehaven/filehaven/internal/config"
	"github.com/filehaven/filehaven/internal/http/api/admin/handlers"
	"github.com/filehaven/filehaven/internal/models"
	"github.com/filehaven/filehaven/internal/quota"
	"github.com/filehaven/filehaven/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers admin-only routes.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, ledger *quota.Ledger) {
	if r == nil || db == nil {
		return
	}

	group := r.Group("/api/admin")
	group.Use(adminAuthMiddleware(db, cfg.JWT))

	usersHandler := handlers.NewUsersHandler(db, ledger)
	group.GET("/users", usersHandler.List)
	group.PUT("/users/:id/status", usersHandler.UpdateStatus)
	group.POST("/users/:id/reconcile", usersHandler.Reconcile)

	statsHandler := handlers.NewStatsHandler(db)
	group.GET("/stats", statsHandler.Stats)
}

// adminAuthMiddleware validates the JWT and re-checks the admin role
// against the user row on every request. Token claims are never
// trusted for the role, since they can outlive a role change.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, strings.TrimSpace(token))
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
		if !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		c.Set("userID", user.ID)
		c.Next()
	}
}
