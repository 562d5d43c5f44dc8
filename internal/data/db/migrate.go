package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/domain"
)

// Models lists everything AutoMigrate manages, in dependency order.
func Models() []any {
	return []any{
		&domain.User{},
		&domain.Enrollment{},
		&domain.CourseRun{},
		&domain.ContentBlock{},
		&domain.ContentAsset{},
		&domain.CourseImportError{},
	}
}

func (s *PostgresService) AutoMigrateAll() error {
	return AutoMigrate(s.db)
}

func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(Models()...)
}
