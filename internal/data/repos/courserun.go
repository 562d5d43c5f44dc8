package repos

import (
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

type CourseRunRepo interface {
	Create(dbc dbctx.Context, run *domain.CourseRun) (*domain.CourseRun, error)
	GetByKey(dbc dbctx.Context, courseKey string) (*domain.CourseRun, error)
	GetByLowerKey(dbc dbctx.Context, lowerKey string) (*domain.CourseRun, error)
	GetByOrgCourse(dbc dbctx.Context, org, course string) (*domain.CourseRun, error)
	List(dbc dbctx.Context) ([]*domain.CourseRun, error)
	Delete(dbc dbctx.Context, courseKey string) error
}

type courseRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseRunRepo(db *gorm.DB, baseLog *logger.Logger) CourseRunRepo {
	return &courseRunRepo{db: db, log: baseLog.With("repo", "CourseRunRepo")}
}

func (r *courseRunRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *courseRunRepo) Create(dbc dbctx.Context, run *domain.CourseRun) (*domain.CourseRun, error) {
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *courseRunRepo) GetByKey(dbc dbctx.Context, courseKey string) (*domain.CourseRun, error) {
	var run domain.CourseRun
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ?", courseKey).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *courseRunRepo) GetByLowerKey(dbc dbctx.Context, lowerKey string) (*domain.CourseRun, error) {
	var run domain.CourseRun
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("lower_key = ?", lowerKey).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetByOrgCourse resolves the run omitted by legacy asset URLs. The first
// matching run wins when an org/course pair has several.
func (r *courseRunRepo) GetByOrgCourse(dbc dbctx.Context, org, course string) (*domain.CourseRun, error) {
	var run domain.CourseRun
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("org = ? AND course = ?", org, course).
		Order("course_key").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *courseRunRepo) List(dbc dbctx.Context) ([]*domain.CourseRun, error) {
	var runs []*domain.CourseRun
	if err := r.tx(dbc).WithContext(dbc.Ctx).Order("course_key").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *courseRunRepo) Delete(dbc dbctx.Context, courseKey string) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ?", courseKey).
		Delete(&domain.CourseRun{}).Error
}
