// Package importer turns an extracted course archive into modulestore and
// contentstore state.
package importer

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/course/rewrite"
	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/olx"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
	"github.com/yungbote/courseport-backend/internal/store/contentstore"
	"github.com/yungbote/courseport-backend/internal/store/modulestore"
)

// CourseNotPresentError means the destination course does not exist and the
// caller did not ask for it to be created.
type CourseNotPresentError struct {
	Key keys.CourseKey
}

func (e *CourseNotPresentError) Error() string {
	return fmt.Sprintf("course not present: %s", e.Key)
}

// BlockImportError wraps one block that failed to import.
type BlockImportError struct {
	DisplayName string
	Location    keys.UsageKey
	Err         error
}

func (e *BlockImportError) Error() string {
	return fmt.Sprintf("block %s (%q) failed to import: %v", e.Location, e.DisplayName, e.Err)
}

func (e *BlockImportError) Unwrap() error { return e.Err }

// Options qualify one import run.
type Options struct {
	// Dest overrides the course identity encoded in the archive.
	Dest *keys.CourseKey
	// CreateIfAbsent registers the destination course when it does not exist.
	CreateIfAbsent bool
	// SkipStatic leaves the static/ directory untouched.
	SkipStatic bool
	// RaiseOnFailure aborts the whole run on the first failing block instead
	// of recording it and continuing.
	RaiseOnFailure bool
	// StaticWorkers caps concurrent static-file ingestion. Zero picks a
	// default.
	StaticWorkers int
}

// Importer drives the import of one extracted archive.
type Importer struct {
	log    *logger.Logger
	store  *modulestore.Store
	assets *contentstore.Store
	errlog repos.ImportErrorRepo
}

func New(baseLog *logger.Logger, store *modulestore.Store, assets *contentstore.Store, errlog repos.ImportErrorRepo) *Importer {
	return &Importer{
		log:    baseLog.With("service", "Importer"),
		store:  store,
		assets: assets,
		errlog: errlog,
	}
}

var defaultTabs = json.RawMessage(`[` +
	`{"type":"courseware","name":"Course"},` +
	`{"type":"course_info","name":"Course Info"},` +
	`{"type":"discussion","name":"Discussion"},` +
	`{"type":"wiki","name":"Wiki"},` +
	`{"type":"progress","name":"Progress"}]`)

// Import ingests the extracted tree rooted at rootDir. It returns the
// destination course key so callers can poll or link to the result.
func (imp *Importer) Import(dbc dbctx.Context, rootDir string, isLibrary bool, userID uuid.UUID, opts Options) (keys.CourseKey, error) {
	reader := olx.NewReader(rootDir, isLibrary)
	source, err := reader.CourseKey()
	if err != nil {
		return keys.CourseKey{}, err
	}
	dest := source
	if opts.Dest != nil {
		dest = *opts.Dest
	}

	exists, err := imp.store.HasCourse(dbc, dest, false)
	if err != nil {
		return keys.CourseKey{}, err
	}
	if !exists {
		if !opts.CreateIfAbsent {
			return keys.CourseKey{}, &CourseNotPresentError{Key: dest}
		}
		if _, err := imp.store.CreateCourse(dbc, dest, userID, isLibrary); err != nil {
			return keys.CourseKey{}, err
		}
	}
	if err := imp.errlog.ClearByCourse(dbc, dest.String()); err != nil {
		return keys.CourseKey{}, err
	}

	if !opts.SkipStatic {
		if err := imp.importStatic(dbc, rootDir, dest, userID, opts.StaticWorkers); err != nil {
			return keys.CourseKey{}, err
		}
	}

	rw := rewrite.New(source, dest)

	err = imp.store.BulkOperations(dbc, dest, func(dbc dbctx.Context) error {
		root, err := reader.ReadCourse()
		if err != nil {
			return err
		}
		if err := imp.overlayPolicies(root, rootDir, source); err != nil {
			return err
		}
		if err := imp.importTree(dbc, root, source, dest, rw, userID, opts, keys.BranchPublished); err != nil {
			return err
		}
		return imp.ensureDefaultTabs(dbc, dest, userID)
	})
	if err != nil {
		return keys.CourseKey{}, err
	}

	if err := imp.importDrafts(dbc, reader, source, dest, rw, userID, opts); err != nil {
		return keys.CourseKey{}, err
	}

	imp.log.Info("course imported", "source", source.String(), "dest", dest.String())
	return dest, nil
}

// overlayPolicies folds policy.json and grading_policy.json into the root
// block before it is written.
func (imp *Importer) overlayPolicies(root *olx.Node, rootDir string, source keys.CourseKey) error {
	pol, err := olx.ReadPolicy(rootDir, source.Run)
	if err != nil {
		return err
	}
	if settings, ok := pol["course/"+source.Run]; ok {
		if err := olx.ApplyPolicy(root, settings); err != nil {
			return err
		}
	}
	grading, err := olx.ReadGradingPolicy(rootDir, source.Run)
	if err != nil {
		return err
	}
	if grading != nil {
		root.Fields["grading_policy"] = fields.Json(grading)
	}
	return nil
}

// importTree walks the node tree depth-first, rewriting and upserting each
// block on the given branch.
func (imp *Importer) importTree(dbc dbctx.Context, node *olx.Node, source, dest keys.CourseKey, rw *rewrite.Rewriter, userID uuid.UUID, opts Options, branch keys.Branch) error {
	if _, err := imp.importNode(dbc, node, source, dest, rw, userID, opts, branch); err != nil {
		return err
	}
	for _, child := range node.Children {
		if err := imp.importTree(dbc, child, source, dest, rw, userID, opts, branch); err != nil {
			return err
		}
	}
	return nil
}

func (imp *Importer) importNode(dbc dbctx.Context, node *olx.Node, source, dest keys.CourseKey, rw *rewrite.Rewriter, userID uuid.UUID, opts Options, branch keys.Branch) (*modulestore.Block, error) {
	block := blockFromNode(source, node)
	rw.RewriteBlock(block)
	if verr := rewrite.Verify(block); verr != nil {
		// A reference the rewrite pass could not claim points outside the
		// destination course. The block is still written so the rest of the
		// tree imports, but the violation goes on the record.
		if ferr := imp.blockFailure(dbc, dest, node, block.UsageKey, verr, opts); ferr != nil {
			return nil, ferr
		}
	}

	var preserved *modulestore.Block
	if node.BlockType == "library_content" {
		existing, err := imp.store.GetItem(dbc, block.UsageKey.ForBranch(keys.BranchPublished))
		if err == nil {
			preserved = existing
		} else if _, ok := err.(*modulestore.ItemNotFoundError); !ok {
			return nil, err
		}
	}
	if preserved != nil {
		// An already-published library_content block keeps its child list so
		// learner state bound to those ids survives re-import.
		block.Children = append([]keys.UsageKey(nil), preserved.Children...)
	}

	written, err := imp.store.ImportXBlock(dbc, userID, dest, block.UsageKey.BlockType, block.UsageKey.BlockID, block.Fields, block.Children, branch)
	if err != nil {
		return nil, imp.blockFailure(dbc, dest, node, block.UsageKey, err, opts)
	}

	if node.BlockType == "library_content" && preserved == nil {
		if err := imp.syncLibraryContent(dbc, written, userID, branch); err != nil {
			return nil, imp.blockFailure(dbc, dest, node, block.UsageKey, err, opts)
		}
	}
	return written, nil
}

// blockFailure either aborts the run or records the failure and lets the
// import continue.
func (imp *Importer) blockFailure(dbc dbctx.Context, dest keys.CourseKey, node *olx.Node, location keys.UsageKey, err error, opts Options) error {
	wrapped := &BlockImportError{DisplayName: node.DisplayName(), Location: location, Err: err}
	if opts.RaiseOnFailure {
		return wrapped
	}
	imp.log.Warn("block failed to import", "location", location.String(), "error", err)
	if logErr := imp.errlog.Append(dbc, &domain.CourseImportError{
		CourseKey:   dest.String(),
		Location:    location.String(),
		DisplayName: node.DisplayName(),
		Message:     err.Error(),
	}); logErr != nil {
		return logErr
	}
	return nil
}

// syncLibraryContent pulls a library's children under a fresh library_content
// block. A missing library is not an error; the block keeps whatever the
// archive gave it.
func (imp *Importer) syncLibraryContent(dbc dbctx.Context, block *modulestore.Block, userID uuid.UUID, branch keys.Branch) error {
	v, ok := block.Fields["source_library_id"]
	if !ok || v.Kind != fields.KindString || v.Str == "" {
		return nil
	}
	libKey, err := keys.ParseCourseKey(v.Str)
	if err != nil {
		return nil
	}
	isLib, err := imp.store.IsLibrary(dbc, libKey)
	if err != nil {
		return err
	}
	if !isLib {
		return nil
	}

	libRoot, libTree, err := imp.store.GetCourse(dbc, libKey, keys.BranchPublished)
	if err != nil {
		return err
	}

	// The block may pin the library version its children were authored
	// against. Only the latest published revision is kept, so when the pin no
	// longer matches the archive's children stand as the closest rendition of
	// that version.
	current := libRoot.RevisionID()
	if rec, ok := block.Fields["source_library_version"]; ok && rec.Kind == fields.KindString && rec.Str != "" && rec.Str != current {
		return nil
	}

	dest := block.UsageKey.CourseKey
	children := make([]keys.UsageKey, 0, len(libRoot.Children))
	for _, libChild := range libRoot.Children {
		if err := imp.copySubtree(dbc, libTree, libChild, dest, userID); err != nil {
			return err
		}
		children = append(children, libChild.MapInto(dest))
	}
	block.Children = children
	block.Fields["source_library_version"] = fields.String(current)
	return imp.store.UpdateItem(dbc, block, userID, branch)
}

func (imp *Importer) copySubtree(dbc dbctx.Context, tree map[keys.UsageKey]*modulestore.Block, key keys.UsageKey, dest keys.CourseKey, userID uuid.UUID) error {
	src, ok := tree[key.ForBranch(keys.BranchNone)]
	if !ok {
		return &modulestore.ItemNotFoundError{Key: key}
	}
	cp := src.Clone()
	rw := rewrite.New(key.CourseKey, dest)
	rw.RewriteBlock(cp)
	if _, err := imp.store.ImportXBlock(dbc, userID, dest, cp.UsageKey.BlockType, cp.UsageKey.BlockID, cp.Fields, cp.Children, keys.BranchDraft); err != nil {
		return err
	}
	for _, child := range src.Children {
		if err := imp.copySubtree(dbc, tree, child, dest, userID); err != nil {
			return err
		}
	}
	return nil
}

// ensureDefaultTabs gives the root the standard tab set when the archive
// carried none.
func (imp *Importer) ensureDefaultTabs(dbc dbctx.Context, dest keys.CourseKey, userID uuid.UUID) error {
	rootKey := imp.store.MakeCourseUsageKey(dest)
	root, err := imp.store.GetItem(dbc, rootKey.ForBranch(keys.BranchPublished))
	if err != nil {
		return err
	}
	if v, ok := root.Fields["tabs"]; ok && v.Kind == fields.KindJson && len(v.Raw) > 0 && string(v.Raw) != "null" && string(v.Raw) != "[]" {
		return nil
	}
	root.Fields["tabs"] = fields.Json(defaultTabs)
	return imp.store.UpdateItem(dbc, root, userID, keys.BranchPublished)
}

// blockFromNode gives a parsed node its in-course identity. References inside
// the fields are still homed in the source course at this point.
func blockFromNode(source keys.CourseKey, node *olx.Node) *modulestore.Block {
	children := make([]keys.UsageKey, 0, len(node.Children))
	for _, c := range node.Children {
		children = append(children, keys.NewUsageKey(source, c.BlockType, c.URLName))
	}
	return &modulestore.Block{
		UsageKey: keys.NewUsageKey(source, node.BlockType, node.URLName),
		Fields:   node.Fields.Clone(),
		Children: children,
	}
}
