package modulestore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/keys"
)

// Block is the in-memory form of one block revision.
type Block struct {
	UsageKey keys.UsageKey
	Fields   fields.Map
	Children []keys.UsageKey

	EditedBy uuid.UUID
	EditedOn time.Time
}

func (b *Block) BlockType() string { return b.UsageKey.BlockType }

func (b *Block) DisplayName() string {
	if v, ok := b.Fields["display_name"]; ok && v.Kind == fields.KindString {
		return v.Str
	}
	return b.UsageKey.BlockID
}

func (b *Block) HasChildren() bool { return len(b.Children) > 0 }

// RevisionID identifies this revision of the block. For a published library
// root it doubles as the library version recorded on library_content blocks.
func (b *Block) RevisionID() string {
	return b.EditedOn.UTC().Format(time.RFC3339Nano)
}

func (b *Block) Clone() *Block {
	cp := *b
	cp.Fields = b.Fields.Clone()
	cp.Children = append([]keys.UsageKey(nil), b.Children...)
	return &cp
}

// ContentEqual ignores branch and audit metadata; it is the identity used to
// decide whether a draft still differs from published.
func (b *Block) ContentEqual(o *Block) bool {
	if o == nil {
		return false
	}
	if len(b.Children) != len(o.Children) {
		return false
	}
	for i := range b.Children {
		if b.Children[i].ForBranch(keys.BranchNone) != o.Children[i].ForBranch(keys.BranchNone) {
			return false
		}
	}
	return b.Fields.Equal(o.Fields)
}

// directOnlyTypes are block types whose draft and published revisions must
// coincide; edits to them write straight to the published branch.
var directOnlyTypes = map[string]bool{
	"course":      true,
	"chapter":     true,
	"about":       true,
	"course_info": true,
	"static_tab":  true,
}

func IsDirectOnly(blockType string) bool { return directOnlyTypes[blockType] }

type ItemNotFoundError struct {
	Key keys.UsageKey
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item not found: %s", e.Key)
}

type DuplicateCourseError struct {
	Key keys.CourseKey
}

func (e *DuplicateCourseError) Error() string {
	return fmt.Sprintf("duplicate course: %s", e.Key)
}

type CourseNotFoundError struct {
	Key keys.CourseKey
}

func (e *CourseNotFoundError) Error() string {
	return fmt.Sprintf("course not found: %s", e.Key)
}
