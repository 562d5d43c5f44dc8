package app

import (
	"github.com/gin-gonic/gin"

	internalhttp "github.com/yungbote/courseport-backend/internal/http"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, cfg Config, h Handlers, mw Middleware) *gin.Engine {
	return internalhttp.NewRouter(internalhttp.RouterConfig{
		Log: log,

		AuthHandler:    h.Auth,
		AuthMiddleware: mw.Auth,

		CourseHandler:       h.Course,
		ImportExportHandler: h.ImportExport,
		AssetHandler:        h.Asset,

		HealthHandler: h.Health,

		ServiceName: cfg.ServiceName,
	})
}
