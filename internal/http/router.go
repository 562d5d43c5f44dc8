package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/courseport-backend/internal/http/handlers"
	httpMW "github.com/yungbote/courseport-backend/internal/http/middleware"
	"github.com/yungbote/courseport-backend/internal/observability"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware

	CourseHandler       *httpH.CourseHandler
	ImportExportHandler *httpH.ImportExportHandler
	AssetHandler        *httpH.AssetHandler

	HealthHandler *httpH.HealthHandler

	ServiceName string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(observability.Current()))
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	// Asset delivery does its own access control; auth is attached when a
	// token is present but never required at the routing layer.
	if cfg.AssetHandler != nil {
		optional := cfg.AuthMiddleware.OptionalAuth()
		r.GET("/c4x/:org/:course/:asset_type/*name", optional, cfg.AssetHandler.ServeC4x)
		r.GET("/assets/courseware/:version/:digest/*c4x", optional, cfg.AssetHandler.ServeVersioned)
	}

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/register", cfg.AuthHandler.Register)
			api.POST("/login", cfg.AuthHandler.Login)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.CourseHandler != nil {
			protected.POST("/courses/:course_key/enroll", cfg.CourseHandler.Enroll)
		}

		// Import/export (staff only)
		if cfg.ImportExportHandler != nil {
			staff := protected.Group("/", cfg.AuthMiddleware.RequireStaff())
			staff.POST("/courses/:course_key/import", cfg.ImportExportHandler.Import)
			staff.GET("/courses/:course_key/import_status/:filename", cfg.ImportExportHandler.ImportStatus)
			staff.GET("/courses/:course_key/export", cfg.ImportExportHandler.Export)
			if cfg.CourseHandler != nil {
				staff.GET("/courses/:course_key/import_errors", cfg.CourseHandler.ImportErrors)
			}
		}
	}

	return r
}
