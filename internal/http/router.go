package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/archsheet-backend/internal/http/handlers"
	httpMW "github.com/yungbote/archsheet-backend/internal/http/middleware"
	"github.com/yungbote/archsheet-backend/internal/observability"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	SheetHandler     *httpH.SheetHandler
	SpecDraftHandler *httpH.SpecDraftHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("archsheet"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.SheetHandler != nil {
			api.POST("/sheets/generate", cfg.SheetHandler.Generate)
			api.GET("/sheets/:designId/:sheetId/baseline", cfg.SheetHandler.GetBaseline)
			api.DELETE("/sheets/:designId/:sheetId/baseline", cfg.SheetHandler.DeleteBaseline)
			api.GET("/sheets/:designId/runs", cfg.SheetHandler.ListRuns)
			api.GET("/runs/:runId/panels", cfg.SheetHandler.GetRunPanels)
		}
		if cfg.SpecDraftHandler != nil {
			api.POST("/specs/draft", cfg.SpecDraftHandler.Draft)
		}
	}

	return r
}
