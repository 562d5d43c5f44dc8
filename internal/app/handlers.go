package app

import (
	"github.com/yungbote/courseport-backend/internal/http/handlers"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

type Handlers struct {
	Auth         *handlers.AuthHandler
	Course       *handlers.CourseHandler
	ImportExport *handlers.ImportExportHandler
	Asset        *handlers.AssetHandler
	Health       *handlers.HealthHandler
}

func wireHandlers(log *logger.Logger, cfg Config, s Services, r Repos) Handlers {
	return Handlers{
		Auth:   handlers.NewAuthHandler(s.Auth),
		Course: handlers.NewCourseHandler(log, s.ModuleStore, r.Enrollments, r.ImportErrors),
		ImportExport: handlers.NewImportExportHandler(
			log, s.Importer, s.Exporter, s.Extractor, s.StatusCache, cfg.UploadRoot,
		),
		Asset:  handlers.NewAssetHandler(log, s.ContentStore, r.CourseRuns, r.Enrollments, cfg.Delivery),
		Health: handlers.NewHealthHandler(),
	}
}
