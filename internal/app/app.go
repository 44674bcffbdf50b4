package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/filehaven/filehaven/internal/config"
	"github.com/filehaven/filehaven/internal/db"
	adminapi "github.com/filehaven/filehaven/internal/http/api/admin"
	"github.com/filehaven/filehaven/internal/http/api/front"
	"github.com/filehaven/filehaven/internal/lifecycle"
	"github.com/filehaven/filehaven/internal/logging"
	"github.com/filehaven/filehaven/internal/objectstore"
	"github.com/filehaven/filehaven/internal/quota"
	"github.com/filehaven/filehaven/internal/ticket"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RunServer boots the API server with database-backed components.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.DB.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSeed := db.SeedAdmin(conn, cfg.Admin.Username, cfg.Admin.Password, cfg.Storage.DefaultLimitBytes); errSeed != nil {
		return errSeed
	}

	store, errStore := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		Bucket:          cfg.S3.Bucket,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		UsePathStyle:    cfg.S3.UsePathStyle,
		PublicBaseURL:   cfg.S3.PublicBaseURL,
	})
	if errStore != nil {
		return errStore
	}

	tickets := newTicketStore(conn, cfg)
	ledger := quota.NewLedger(conn)
	controller := lifecycle.NewController(conn, ledger, store, tickets, lifecycle.Options{
		TicketTTL: cfg.Storage.TicketTTL(),
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	front.RegisterFrontRoutes(engine, conn, cfg, controller)
	adminapi.RegisterAdminRoutes(engine, conn, cfg, ledger)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// newTicketStore picks the Redis ticket store when configured, falling
// back to the relational one.
func newTicketStore(conn *gorm.DB, cfg config.Config) ticket.Store {
	if addr := cfg.Tickets.RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Tickets.RedisPassword,
			DB:       cfg.Tickets.RedisDB,
		})
		log.Infof("upload tickets stored in redis at %s", addr)
		return ticket.NewRedisStore(client)
	}
	return ticket.NewGormStore(conn)
}

// requestLogger logs each request with method, path, status and timing.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Info("request")
	}
}
