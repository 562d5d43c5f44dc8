package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CourseRun is one (org, course, run) identity known to the modulestore.
type CourseRun struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Org    string    `gorm:"not null" json:"org"`
	Course string    `gorm:"not null" json:"course"`
	Run    string    `gorm:"not null" json:"run"`

	// CourseKey is the canonical string form; LowerKey backs the
	// case-insensitive duplicate check.
	CourseKey string `gorm:"uniqueIndex;not null" json:"course_key"`
	LowerKey  string `gorm:"uniqueIndex;not null" json:"-"`

	IsLibrary bool      `gorm:"not null;default:false" json:"is_library"`
	CreatedBy uuid.UUID `gorm:"type:uuid" json:"created_by"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (CourseRun) TableName() string { return "course_runs" }

func (c *CourseRun) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ContentBlock is one block revision on one branch. The same logical block
// has at most one row per branch.
type ContentBlock struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseKey string    `gorm:"not null;uniqueIndex:idx_block_identity;index:idx_block_course_branch" json:"course_key"`
	BlockType string    `gorm:"not null;uniqueIndex:idx_block_identity" json:"block_type"`
	BlockID   string    `gorm:"not null;uniqueIndex:idx_block_identity" json:"block_id"`
	Branch    string    `gorm:"not null;uniqueIndex:idx_block_identity;index:idx_block_course_branch" json:"branch"`

	// Fields holds the typed field map; Children the ordered child usage keys.
	Fields   datatypes.JSON `gorm:"type:json" json:"fields"`
	Children datatypes.JSON `gorm:"type:json" json:"children"`

	EditedBy uuid.UUID `gorm:"type:uuid" json:"edited_by"`
	EditedOn time.Time `gorm:"not null" json:"edited_on"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ContentBlock) TableName() string { return "content_blocks" }

func (b *ContentBlock) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// CourseImportError is one recorded per-block failure from a tolerant import.
type CourseImportError struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseKey   string    `gorm:"not null;index" json:"course_key"`
	Location    string    `gorm:"not null" json:"location"`
	DisplayName string    `json:"display_name"`
	Message     string    `gorm:"not null" json:"message"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (CourseImportError) TableName() string { return "course_import_errors" }

func (e *CourseImportError) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
