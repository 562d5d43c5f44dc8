package modulestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

// RootBlockID is the block id every course root carries.
const RootBlockID = "course"

// Store is the versioned tree store of content blocks. Branch selection is
// always an explicit argument; there is no process-global branch state.
type Store struct {
	db      *gorm.DB
	log     *logger.Logger
	courses repos.CourseRunRepo
	blocks  repos.BlockRepo
}

func New(db *gorm.DB, baseLog *logger.Logger, courses repos.CourseRunRepo, blocks repos.BlockRepo) *Store {
	return &Store{
		db:      db,
		log:     baseLog.With("service", "ModuleStore"),
		courses: courses,
		blocks:  blocks,
	}
}

// BulkOperations runs fn inside one transaction scope: writes inside it are
// observed atomically by readers in the same scope, and the scope is released
// on every exit path. Nested calls join the enclosing scope.
func (s *Store) BulkOperations(dbc dbctx.Context, courseKey keys.CourseKey, fn func(dbc dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	return s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbc.WithTx(tx))
	})
}

// MakeCourseUsageKey returns the usage key of the course root block.
func (s *Store) MakeCourseUsageKey(courseKey keys.CourseKey) keys.UsageKey {
	return keys.NewUsageKey(courseKey, "course", RootBlockID)
}

// CreateCourse registers the course identity and writes its root block to the
// published branch. Collisions are checked case-insensitively.
func (s *Store) CreateCourse(dbc dbctx.Context, courseKey keys.CourseKey, userID uuid.UUID, isLibrary bool) (*Block, error) {
	existing, err := s.courses.GetByLowerKey(dbc, courseKey.LowerString())
	if err != nil {
		return nil, fmt.Errorf("check duplicate course: %w", err)
	}
	if existing != nil {
		return nil, &DuplicateCourseError{Key: courseKey}
	}

	if _, err := s.courses.Create(dbc, &domain.CourseRun{
		Org:       courseKey.Org,
		Course:    courseKey.Course,
		Run:       courseKey.Run,
		CourseKey: courseKey.String(),
		LowerKey:  courseKey.LowerString(),
		IsLibrary: isLibrary,
		CreatedBy: userID,
	}); err != nil {
		return nil, fmt.Errorf("create course run: %w", err)
	}

	root := &Block{
		UsageKey: s.MakeCourseUsageKey(courseKey),
		Fields:   fields.Map{"display_name": fields.String(courseKey.Course)},
	}
	if err := s.writeBlock(dbc, root, userID, keys.BranchPublished); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *Store) HasCourse(dbc dbctx.Context, courseKey keys.CourseKey, ignoreCase bool) (bool, error) {
	if ignoreCase {
		run, err := s.courses.GetByLowerKey(dbc, courseKey.LowerString())
		return run != nil, err
	}
	run, err := s.courses.GetByKey(dbc, courseKey.String())
	return run != nil, err
}

func (s *Store) IsLibrary(dbc dbctx.Context, courseKey keys.CourseKey) (bool, error) {
	run, err := s.courses.GetByKey(dbc, courseKey.String())
	if err != nil {
		return false, err
	}
	return run != nil && run.IsLibrary, nil
}

// GetCourse bulk-loads the whole tree for one branch in a single read and
// returns the root. Missing course yields CourseNotFoundError.
func (s *Store) GetCourse(dbc dbctx.Context, courseKey keys.CourseKey, branch keys.Branch) (*Block, map[keys.UsageKey]*Block, error) {
	rows, err := s.blocks.GetByCourseBranch(dbc, courseKey.String(), string(effective(branch)))
	if err != nil {
		return nil, nil, fmt.Errorf("load course %s: %w", courseKey, err)
	}
	tree := make(map[keys.UsageKey]*Block, len(rows))
	var root *Block
	for _, row := range rows {
		block, err := s.decode(row)
		if err != nil {
			return nil, nil, err
		}
		tree[block.UsageKey.ForBranch(keys.BranchNone)] = block
		if block.UsageKey.BlockType == "course" {
			root = block
		}
	}
	if root == nil {
		return nil, nil, &CourseNotFoundError{Key: courseKey}
	}
	return root, tree, nil
}

// GetItem loads one block on the branch carried by the key (published when
// the key carries none).
func (s *Store) GetItem(dbc dbctx.Context, usageKey keys.UsageKey) (*Block, error) {
	row, err := s.blocks.Get(dbc, usageKey.CourseKey.String(), usageKey.BlockType, usageKey.BlockID, string(effective(usageKey.Branch)))
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", usageKey, err)
	}
	if row == nil {
		return nil, &ItemNotFoundError{Key: usageKey}
	}
	return s.decode(row)
}

// GetItemPreferDraft reads the draft revision when one exists, falling back
// to published.
func (s *Store) GetItemPreferDraft(dbc dbctx.Context, usageKey keys.UsageKey) (*Block, error) {
	block, err := s.GetItem(dbc, usageKey.ForBranch(keys.BranchDraft))
	if err == nil {
		return block, nil
	}
	if _, ok := err.(*ItemNotFoundError); !ok {
		return nil, err
	}
	return s.GetItem(dbc, usageKey.ForBranch(keys.BranchPublished))
}

// GetItems lists blocks of one type on one branch.
func (s *Store) GetItems(dbc dbctx.Context, courseKey keys.CourseKey, blockType string, branch keys.Branch) ([]*Block, error) {
	rows, err := s.blocks.GetByCourseTypeBranch(dbc, courseKey.String(), blockType, string(effective(branch)))
	if err != nil {
		return nil, err
	}
	out := make([]*Block, 0, len(rows))
	for _, row := range rows {
		block, err := s.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

// GetBranchBlocks returns every block present on a branch.
func (s *Store) GetBranchBlocks(dbc dbctx.Context, courseKey keys.CourseKey, branch keys.Branch) ([]*Block, error) {
	rows, err := s.blocks.GetByCourseBranch(dbc, courseKey.String(), string(effective(branch)))
	if err != nil {
		return nil, err
	}
	out := make([]*Block, 0, len(rows))
	for _, row := range rows {
		block, err := s.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

// CreateItem writes a new block. Draft writes to direct-only types are
// redirected to the published branch so the two revisions cannot diverge.
func (s *Store) CreateItem(dbc dbctx.Context, userID uuid.UUID, usageKey keys.UsageKey, flds fields.Map, children []keys.UsageKey, branch keys.Branch) (*Block, error) {
	block := &Block{UsageKey: usageKey, Fields: flds, Children: children}
	if err := s.writeBlock(dbc, block, userID, branch); err != nil {
		return nil, err
	}
	return block, nil
}

// UpdateItem rewrites an existing block on the given branch.
func (s *Store) UpdateItem(dbc dbctx.Context, block *Block, userID uuid.UUID, branch keys.Branch) error {
	return s.writeBlock(dbc, block, userID, branch)
}

// ImportXBlock is the idempotent upsert the import pipeline uses.
func (s *Store) ImportXBlock(dbc dbctx.Context, userID uuid.UUID, courseKey keys.CourseKey, blockType, blockID string, flds fields.Map, children []keys.UsageKey, branch keys.Branch) (*Block, error) {
	block := &Block{
		UsageKey: keys.NewUsageKey(courseKey, blockType, blockID),
		Fields:   flds,
		Children: children,
	}
	if err := s.writeBlock(dbc, block, userID, branch); err != nil {
		return nil, err
	}
	return block, nil
}

// Publish copies the draft subtree rooted at usageKey over the published
// branch and drops the draft revisions.
func (s *Store) Publish(dbc dbctx.Context, usageKey keys.UsageKey, userID uuid.UUID) error {
	return s.BulkOperations(dbc, usageKey.CourseKey, func(dbc dbctx.Context) error {
		return s.publishOne(dbc, usageKey, userID)
	})
}

func (s *Store) publishOne(dbc dbctx.Context, usageKey keys.UsageKey, userID uuid.UUID) error {
	draft, err := s.GetItem(dbc, usageKey.ForBranch(keys.BranchDraft))
	if err != nil {
		if _, ok := err.(*ItemNotFoundError); ok {
			return nil // nothing pending for this block
		}
		return err
	}
	if err := s.writeBlock(dbc, draft.Clone(), userID, keys.BranchPublished); err != nil {
		return err
	}
	if err := s.blocks.Delete(dbc, usageKey.CourseKey.String(), usageKey.BlockType, usageKey.BlockID, string(keys.BranchDraft)); err != nil {
		return err
	}
	for _, child := range draft.Children {
		if err := s.publishOne(dbc, child, userID); err != nil {
			return err
		}
	}
	return nil
}

// HasChanges reports whether the draft branch holds this block and it
// differs from published.
func (s *Store) HasChanges(dbc dbctx.Context, usageKey keys.UsageKey) (bool, error) {
	draft, err := s.GetItem(dbc, usageKey.ForBranch(keys.BranchDraft))
	if err != nil {
		if _, ok := err.(*ItemNotFoundError); ok {
			return false, nil
		}
		return false, err
	}
	published, err := s.GetItem(dbc, usageKey.ForBranch(keys.BranchPublished))
	if err != nil {
		if _, ok := err.(*ItemNotFoundError); ok {
			return true, nil // draft-only block
		}
		return false, err
	}
	return !draft.ContentEqual(published), nil
}

// DeleteDraft drops the pending revision, leaving published untouched.
func (s *Store) DeleteDraft(dbc dbctx.Context, usageKey keys.UsageKey) error {
	return s.blocks.Delete(dbc, usageKey.CourseKey.String(), usageKey.BlockType, usageKey.BlockID, string(keys.BranchDraft))
}

// DeleteItem removes the block subtree from both branches.
func (s *Store) DeleteItem(dbc dbctx.Context, usageKey keys.UsageKey) error {
	return s.BulkOperations(dbc, usageKey.CourseKey, func(dbc dbctx.Context) error {
		return s.deleteSubtree(dbc, usageKey)
	})
}

func (s *Store) deleteSubtree(dbc dbctx.Context, usageKey keys.UsageKey) error {
	for _, branch := range []keys.Branch{keys.BranchDraft, keys.BranchPublished} {
		block, err := s.GetItem(dbc, usageKey.ForBranch(branch))
		if err != nil {
			if _, ok := err.(*ItemNotFoundError); ok {
				continue
			}
			return err
		}
		for _, child := range block.Children {
			if err := s.deleteSubtree(dbc, child); err != nil {
				return err
			}
		}
		if err := s.blocks.Delete(dbc, usageKey.CourseKey.String(), usageKey.BlockType, usageKey.BlockID, string(branch)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteCourse removes the identity and every block row.
func (s *Store) DeleteCourse(dbc dbctx.Context, courseKey keys.CourseKey) error {
	return s.BulkOperations(dbc, courseKey, func(dbc dbctx.Context) error {
		if err := s.blocks.DeleteByCourse(dbc, courseKey.String()); err != nil {
			return err
		}
		return s.courses.Delete(dbc, courseKey.String())
	})
}

func (s *Store) writeBlock(dbc dbctx.Context, block *Block, userID uuid.UUID, branch keys.Branch) error {
	branch = effective(branch)
	if branch == keys.BranchDraft && IsDirectOnly(block.UsageKey.BlockType) {
		branch = keys.BranchPublished
	}
	row, err := s.encode(block, userID, branch)
	if err != nil {
		return err
	}
	if err := s.blocks.Upsert(dbc, row); err != nil {
		return fmt.Errorf("write block %s: %w", block.UsageKey, err)
	}
	return nil
}

func (s *Store) encode(block *Block, userID uuid.UUID, branch keys.Branch) (*domain.ContentBlock, error) {
	rawFields, err := json.Marshal(block.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields for %s: %w", block.UsageKey, err)
	}
	childStrs := make([]string, 0, len(block.Children))
	for _, c := range block.Children {
		childStrs = append(childStrs, c.ForBranch(keys.BranchNone).String())
	}
	rawChildren, err := json.Marshal(childStrs)
	if err != nil {
		return nil, fmt.Errorf("encode children for %s: %w", block.UsageKey, err)
	}
	return &domain.ContentBlock{
		CourseKey: block.UsageKey.CourseKey.String(),
		BlockType: block.UsageKey.BlockType,
		BlockID:   block.UsageKey.BlockID,
		Branch:    string(branch),
		Fields:    rawFields,
		Children:  rawChildren,
		EditedBy:  userID,
		EditedOn:  time.Now().UTC(),
	}, nil
}

func (s *Store) decode(row *domain.ContentBlock) (*Block, error) {
	courseKey, err := keys.ParseCourseKey(row.CourseKey)
	if err != nil {
		return nil, fmt.Errorf("decode block course key: %w", err)
	}
	block := &Block{
		UsageKey: keys.UsageKey{
			CourseKey: courseKey,
			BlockType: row.BlockType,
			BlockID:   row.BlockID,
			Branch:    keys.Branch(row.Branch),
		},
		Fields:   fields.Map{},
		EditedBy: row.EditedBy,
		EditedOn: row.EditedOn,
	}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &block.Fields); err != nil {
			return nil, fmt.Errorf("decode fields for %s: %w", block.UsageKey, err)
		}
	}
	if len(row.Children) > 0 {
		var childStrs []string
		if err := json.Unmarshal(row.Children, &childStrs); err != nil {
			return nil, fmt.Errorf("decode children for %s: %w", block.UsageKey, err)
		}
		for _, cs := range childStrs {
			child, err := keys.ParseUsageKey(cs)
			if err != nil {
				return nil, fmt.Errorf("decode child key for %s: %w", block.UsageKey, err)
			}
			block.Children = append(block.Children, child)
		}
	}
	return block, nil
}

func effective(branch keys.Branch) keys.Branch {
	if branch == keys.BranchNone {
		return keys.BranchPublished
	}
	return branch
}
