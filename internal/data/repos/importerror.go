package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

type ImportErrorRepo interface {
	Append(dbc dbctx.Context, rec *domain.CourseImportError) error
	ListByCourse(dbc dbctx.Context, courseKey string) ([]*domain.CourseImportError, error)
	ClearByCourse(dbc dbctx.Context, courseKey string) error
}

type importErrorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImportErrorRepo(db *gorm.DB, baseLog *logger.Logger) ImportErrorRepo {
	return &importErrorRepo{db: db, log: baseLog.With("repo", "ImportErrorRepo")}
}

func (r *importErrorRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *importErrorRepo) Append(dbc dbctx.Context, rec *domain.CourseImportError) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(rec).Error
}

func (r *importErrorRepo) ListByCourse(dbc dbctx.Context, courseKey string) ([]*domain.CourseImportError, error) {
	var recs []*domain.CourseImportError
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ?", courseKey).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *importErrorRepo) ClearByCourse(dbc dbctx.Context, courseKey string) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ?", courseKey).
		Delete(&domain.CourseImportError{}).Error
}
