package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

type UserRepo interface {
	Create(dbc dbctx.Context, user *domain.User) (*domain.User, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.User, error)
	GetByUsername(dbc dbctx.Context, username string) (*domain.User, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *userRepo) Create(dbc dbctx.Context, user *domain.User) (*domain.User, error) {
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByUsername(dbc dbctx.Context, username string) (*domain.User, error) {
	var user domain.User
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type EnrollmentRepo interface {
	Enroll(dbc dbctx.Context, userID uuid.UUID, courseKey string) error
	IsEnrolled(dbc dbctx.Context, userID uuid.UUID, courseKey string) (bool, error)
}

type enrollmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEnrollmentRepo(db *gorm.DB, baseLog *logger.Logger) EnrollmentRepo {
	return &enrollmentRepo{db: db, log: baseLog.With("repo", "EnrollmentRepo")}
}

func (r *enrollmentRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *enrollmentRepo) Enroll(dbc dbctx.Context, userID uuid.UUID, courseKey string) error {
	existing, err := r.IsEnrolled(dbc, userID, courseKey)
	if err != nil {
		return err
	}
	if existing {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Create(&domain.Enrollment{
		UserID:    userID,
		CourseKey: courseKey,
		Active:    true,
	}).Error
}

func (r *enrollmentRepo) IsEnrolled(dbc dbctx.Context, userID uuid.UUID, courseKey string) (bool, error) {
	var count int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Enrollment{}).
		Where("user_id = ? AND course_key = ? AND active = ?", userID, courseKey, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
