// Command kiosk runs the rec-center check-in kiosk backend: the membership
// cache, the segment registry, bulk roster refreshes, the offline check-in
// queue with its background CRM syncer, and pass verification.
//
// @title           Check-in Kiosk API
// @version         1.0
// @description     Membership cache, segment registry and offline check-in queue for rec-center kiosks.
// @BasePath        /api/v1
// @schemes         http https
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/tbourn/checkin-kiosk/docs"
	"github.com/tbourn/checkin-kiosk/internal/config"
	"github.com/tbourn/checkin-kiosk/internal/crm"
	httpapi "github.com/tbourn/checkin-kiosk/internal/http"
	"github.com/tbourn/checkin-kiosk/internal/observability"
	"github.com/tbourn/checkin-kiosk/internal/repo"
	"github.com/tbourn/checkin-kiosk/internal/services"
	"github.com/tbourn/checkin-kiosk/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}
	defer observability.ShutdownWithTimeout(shutdownOTel, 5*time.Second)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing disabled")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	client := crm.NewHTTPClient(crm.HTTPConfig{
		BaseURL:     cfg.CRM.BaseURL,
		AccessToken: cfg.CRM.AccessToken,
		Timeout:     cfg.CRM.Timeout,
		RPS:         cfg.CRM.RPS,
		Burst:       cfg.CRM.Burst,
	})
	tracker := services.NewRefreshTracker()

	// Background drain of the offline queue.
	syncer := services.NewQueueSyncer(
		services.NewCheckinQueueService(db, cfg.Queue.MaxSyncAttempts),
		services.CRMSync(client),
		cfg.Queue.SyncInterval,
		cfg.Queue.RetentionDays,
	)
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		syncer.Run(ctx)
	}()

	r := gin.New()
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	httpapi.RegisterRoutes(r, db, client, tracker, cfg)

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		docs.SwaggerInfo.Version = version
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("kiosk api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-syncDone

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
