package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/archsheet-backend/internal/clients/gcs"
	redisclient "github.com/yungbote/archsheet-backend/internal/clients/redis"
	"github.com/yungbote/archsheet-backend/internal/db"
	apphttp "github.com/yungbote/archsheet-backend/internal/http"
	"github.com/yungbote/archsheet-backend/internal/http/handlers"
	"github.com/yungbote/archsheet-backend/internal/observability"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/platform/render"
	"github.com/yungbote/archsheet-backend/internal/platform/specgen"
	"github.com/yungbote/archsheet-backend/internal/sheet/baseline"
	"github.com/yungbote/archsheet-backend/internal/sheet/preview"
	"github.com/yungbote/archsheet-backend/internal/sheet/runlock"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "archsheet",
		Environment: envutil.Str("APP_ENV", "development"),
		Version:     envutil.Str("ARCHSHEET_VERSION", "0.1.0"),
	})
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	// Metrics
	metrics := observability.NewMetrics()
	if addr := envutil.Str("METRICS_ADDR", ""); addr != "" {
		metrics.StartServer(ctx, addr, func(err error) {
			log.Error("metrics server failed", "error", err)
		})
	}

	// Database (optional: audit rows and the gorm baseline backend)
	var gdb *gorm.DB
	if !envutil.Bool("DB_DISABLED", false) {
		dbService, err := db.NewService(log)
		if err != nil {
			log.Warn("Database init failed, persistence disabled", "error", err)
		} else {
			if err := dbService.AutoMigrateAll(); err != nil {
				log.Warn("Auto migration failed", "error", err)
			}
			gdb = dbService.DB()
		}
	}

	// Redis (optional: distributed locks and baseline cache)
	var rdb *goredis.Client
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		rdb, err = redisclient.NewClient(log)
		if err != nil {
			log.Warn("Redis init failed, using in-memory fallbacks", "error", err)
			rdb = nil
		}
	}

	// Run locks
	var locks runlock.Registry
	if rdb != nil {
		locks = runlock.NewRedisRegistry(log, rdb)
	} else {
		locks = runlock.NewMemoryRegistry(log)
	}

	// Baseline store
	var backend baseline.Backend
	switch envutil.Str("BASELINE_BACKEND", "auto") {
	case "memory":
		backend = baseline.NewMemoryBackend()
	case "redis":
		if rdb == nil {
			log.Error("BASELINE_BACKEND=redis but redis is unavailable")
			os.Exit(1)
		}
		backend = baseline.NewRedisBackend(rdb, "archsheet:baseline:")
	case "gorm":
		if gdb == nil {
			log.Error("BASELINE_BACKEND=gorm but database is unavailable")
			os.Exit(1)
		}
		backend = baseline.NewGormBackend(gdb)
	default:
		switch {
		case gdb != nil:
			backend = baseline.NewGormBackend(gdb)
		case rdb != nil:
			backend = baseline.NewRedisBackend(rdb, "archsheet:baseline:")
		default:
			backend = baseline.NewMemoryBackend()
		}
	}
	baselines := baseline.NewStore(log, backend)

	// Render provider
	httpRender, err := render.NewHTTPClient(log)
	if err != nil {
		log.Error("Could not init render client", "error", err)
		os.Exit(1)
	}
	renderClient := render.WithObserver(httpRender, metrics)

	// Spec drafting (optional)
	var specDraftHandler *handlers.SpecDraftHandler
	if strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "" {
		draftClient, err := specgen.NewOpenAIClient(log)
		if err != nil {
			log.Warn("Could not init spec draft client", "error", err)
		} else {
			specDraftHandler = handlers.NewSpecDraftHandler(log, draftClient)
		}
	}

	// Object storage (optional: preview uploads)
	var bucket gcs.BucketService
	if strings.TrimSpace(os.Getenv("PANEL_GCS_BUCKET_NAME")) != "" {
		bucket, err = gcs.NewBucketService(log)
		if err != nil {
			log.Warn("Could not init BucketService", "error", err)
			bucket = nil
		}
	}

	previews := preview.NewRenderer(log)

	sheetHandler := handlers.NewSheetHandler(log, renderClient, locks, baselines, gdb, previews, bucket, metrics)

	server := apphttp.NewServer(apphttp.RouterConfig{
		Log:              log,
		Metrics:          metrics,
		SheetHandler:     sheetHandler,
		SpecDraftHandler: specDraftHandler,
		HealthHandler:    handlers.NewHealthHandler(),
	})

	addr := ":" + envutil.Str("PORT", "8080")
	log.Info("Starting server...", "addr", addr)
	if err := server.Run(addr); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
