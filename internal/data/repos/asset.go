package repos

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

// AssetPage qualifies ListForCourse queries.
type AssetPage struct {
	ContentTypePrefix string
	SortBy            string // "name" | "uploaded_at" | "length"
	Descending        bool
	Start             int
	Limit             int
}

type AssetRepo interface {
	Create(dbc dbctx.Context, asset *domain.ContentAsset) error
	Save(dbc dbctx.Context, asset *domain.ContentAsset) error
	Get(dbc dbctx.Context, courseKey, assetType, name, namespace string) (*domain.ContentAsset, error)
	ListForCourse(dbc dbctx.Context, courseKey, namespace string, page AssetPage) ([]*domain.ContentAsset, int64, error)
	Delete(dbc dbctx.Context, courseKey, assetType, name, namespace string) error
}

type assetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetRepo(db *gorm.DB, baseLog *logger.Logger) AssetRepo {
	return &assetRepo{db: db, log: baseLog.With("repo", "AssetRepo")}
}

func (r *assetRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *assetRepo) Create(dbc dbctx.Context, asset *domain.ContentAsset) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(asset).Error
}

func (r *assetRepo) Save(dbc dbctx.Context, asset *domain.ContentAsset) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Save(asset).Error
}

func (r *assetRepo) Get(dbc dbctx.Context, courseKey, assetType, name, namespace string) (*domain.ContentAsset, error) {
	var asset domain.ContentAsset
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ? AND asset_type = ? AND name = ? AND namespace = ?",
			courseKey, assetType, name, namespace).
		First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepo) ListForCourse(dbc dbctx.Context, courseKey, namespace string, page AssetPage) ([]*domain.ContentAsset, int64, error) {
	q := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.ContentAsset{}).
		Where("course_key = ? AND namespace = ?", courseKey, namespace)
	if page.ContentTypePrefix != "" {
		q = q.Where("content_type LIKE ?", page.ContentTypePrefix+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sort := "name"
	switch page.SortBy {
	case "uploaded_at", "length", "name", "":
		if page.SortBy != "" {
			sort = page.SortBy
		}
	default:
		sort = "name"
	}
	dir := " asc"
	if page.Descending {
		dir = " desc"
	}
	q = q.Order(strings.Join([]string{sort, dir}, ""))

	if page.Start > 0 {
		q = q.Offset(page.Start)
	}
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}

	var assets []*domain.ContentAsset
	if err := q.Find(&assets).Error; err != nil {
		return nil, 0, err
	}
	return assets, total, nil
}

func (r *assetRepo) Delete(dbc dbctx.Context, courseKey, assetType, name, namespace string) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("course_key = ? AND asset_type = ? AND name = ? AND namespace = ?",
			courseKey, assetType, name, namespace).
		Delete(&domain.ContentAsset{}).Error
}
