package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/archive"
	"github.com/yungbote/courseport-backend/internal/blob"
	"github.com/yungbote/courseport-backend/internal/course/exporter"
	"github.com/yungbote/courseport-backend/internal/course/importer"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
	"github.com/yungbote/courseport-backend/internal/services"
	"github.com/yungbote/courseport-backend/internal/status"
	"github.com/yungbote/courseport-backend/internal/store/contentstore"
	"github.com/yungbote/courseport-backend/internal/store/modulestore"
)

type Services struct {
	Auth services.AuthService

	Blobs        blob.Store
	ModuleStore  *modulestore.Store
	ContentStore *contentstore.Store

	Importer  *importer.Importer
	Exporter  *exporter.Exporter
	Extractor *archive.Extractor

	StatusCache status.Cache
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos) (Services, error) {
	var s Services

	s.Auth = services.NewAuthService(log, r.Users, cfg.JWTSecretKey, cfg.AccessTokenTTL)

	blobs, err := resolveBlobStore(context.Background(), log, cfg)
	if err != nil {
		return Services{}, err
	}
	s.Blobs = blobs

	s.ModuleStore = modulestore.New(db, log, r.CourseRuns, r.Blocks)
	s.ContentStore = contentstore.New(db, log, r.Assets, blobs)

	s.Importer = importer.New(log, s.ModuleStore, s.ContentStore, r.ImportErrors)
	s.Exporter = exporter.New(log, s.ModuleStore, s.ContentStore)

	// Extraction targets live under the upload root, one dir per upload.
	extractor, err := archive.NewExtractor(log, cfg.UploadRoot)
	if err != nil {
		return Services{}, fmt.Errorf("init archive extractor: %w", err)
	}
	s.Extractor = extractor

	s.StatusCache = resolveStatusCache(log)

	return s, nil
}
