package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

type Repos struct {
	Users        repos.UserRepo
	Enrollments  repos.EnrollmentRepo
	CourseRuns   repos.CourseRunRepo
	Blocks       repos.BlockRepo
	Assets       repos.AssetRepo
	ImportErrors repos.ImportErrorRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Users:        repos.NewUserRepo(db, log),
		Enrollments:  repos.NewEnrollmentRepo(db, log),
		CourseRuns:   repos.NewCourseRunRepo(db, log),
		Blocks:       repos.NewBlockRepo(db, log),
		Assets:       repos.NewAssetRepo(db, log),
		ImportErrors: repos.NewImportErrorRepo(db, log),
	}
}
