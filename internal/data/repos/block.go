package repos

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

type BlockRepo interface {
	Upsert(dbc dbctx.Context, block *domain.ContentBlock) error
	Get(dbc dbctx.Context, courseKey, blockType, blockID, branch string) (*domain.ContentBlock, error)
	GetByCourseBranch(dbc dbctx.Context, courseKey, branch string) ([]*domain.ContentBlock, error)
	GetByCourseTypeBranch(dbc dbctx.Context, courseKey, blockType, branch string) ([]*domain.ContentBlock, error)
	Delete(dbc dbctx.Context, courseKey, blockType, blockID, branch string) error
	DeleteByCourse(dbc dbctx.Context, courseKey string) error
}

type blockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBlockRepo(db *gorm.DB, baseLog *logger.Logger) BlockRepo {
	return &blockRepo{db: db, log: baseLog.With("repo", "BlockRepo")}
}

func (r *blockRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Upsert writes one block revision keyed by (course, type, id, branch).
func (r *blockRepo) Upsert(dbc dbctx.Context, block *domain.ContentBlock) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "course_key"}, {Name: "block_type"},
				{Name: "block_id"}, {Name: "branch"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"fields", "children", "edited_by", "edited_on", "updated_at",
			}),
		}).
		Create(block).Error
}

func (r *blockRepo) Get(dbc dbctx.Context, courseKey, blockType, blockID, branch string) (*domain.ContentBlock, error) {
	var block domain.ContentBlock
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ? AND block_type = ? AND block_id = ? AND branch = ?",
			courseKey, blockType, blockID, branch).
		First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *blockRepo) GetByCourseBranch(dbc dbctx.Context, courseKey, branch string) ([]*domain.ContentBlock, error) {
	var blocks []*domain.ContentBlock
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ? AND branch = ?", courseKey, branch).
		Order("block_type, block_id").
		Find(&blocks).Error
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

func (r *blockRepo) GetByCourseTypeBranch(dbc dbctx.Context, courseKey, blockType, branch string) ([]*domain.ContentBlock, error) {
	var blocks []*domain.ContentBlock
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ? AND block_type = ? AND branch = ?", courseKey, blockType, branch).
		Order("block_id").
		Find(&blocks).Error
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

func (r *blockRepo) Delete(dbc dbctx.Context, courseKey, blockType, blockID, branch string) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ? AND block_type = ? AND block_id = ? AND branch = ?",
			courseKey, blockType, blockID, branch).
		Delete(&domain.ContentBlock{}).Error
}

func (r *blockRepo) DeleteByCourse(dbc dbctx.Context, courseKey string) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ?", courseKey).
		Delete(&domain.ContentBlock{}).Error
}
