package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AssetNamespaceLive  = "live"
	AssetNamespaceTrash = "trash"
)

// ContentAsset is the metadata record for one stored binary. The blob itself
// lives in the blob store under StorageKey.
type ContentAsset struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseKey string    `gorm:"not null;uniqueIndex:idx_asset_identity;index" json:"course_key"`
	AssetType string    `gorm:"not null;uniqueIndex:idx_asset_identity" json:"asset_type"`
	Name      string    `gorm:"not null;uniqueIndex:idx_asset_identity" json:"name"`

	// Namespace separates live assets from the trashcan retained by
	// soft deletes.
	Namespace string `gorm:"not null;default:live;uniqueIndex:idx_asset_identity" json:"namespace"`

	ContentType string `gorm:"not null" json:"content_type"`
	Length      int64  `gorm:"not null" json:"length"`
	Digest      string `gorm:"not null;index" json:"content_digest"`
	Locked      bool   `gorm:"not null;default:false" json:"locked"`

	StorageKey    string  `gorm:"not null" json:"-"`
	ThumbnailPath *string `json:"thumbnail_location,omitempty"`
	ImportPath    *string `json:"import_path,omitempty"`

	CurrVersion string    `json:"curr_version"`
	PrevVersion string    `json:"prev_version"`
	EditedBy    uuid.UUID `gorm:"type:uuid" json:"edited_by"`

	UploadedAt time.Time `gorm:"not null" json:"uploaded_at"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (ContentAsset) TableName() string { return "content_assets" }

func (a *ContentAsset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Namespace == "" {
		a.Namespace = AssetNamespaceLive
	}
	return nil
}
