// Package exporter serializes the published branch of a course back into an
// archive tree, drafts overlay included.
package exporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/yungbote/courseport-backend/internal/archive"
	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/course/rewrite"
	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/olx"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
	"github.com/yungbote/courseport-backend/internal/store/contentstore"
	"github.com/yungbote/courseport-backend/internal/store/modulestore"
)

// SerializationError names the block that could not be serialized and, when
// locatable, its enclosing vertical so the UI can deep-link to the unit.
type SerializationError struct {
	Location keys.UsageKey
	Unit     *keys.UsageKey
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize %s: %v", e.Location, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// flatDirs maps block types to the extra sidecar directories a course
// archive carries for them.
var flatDirs = map[string]struct {
	dir string
	ext string
}{
	"static_tab":          {"tabs", ".html"},
	"course_info":         {"info", ".html"},
	"about":               {"about", ".html"},
	"custom_tag_template": {"custom_tags", ""},
}

// Exporter walks the stores and writes the archive tree.
type Exporter struct {
	log    *logger.Logger
	store  *modulestore.Store
	assets *contentstore.Store
}

func New(baseLog *logger.Logger, store *modulestore.Store, assets *contentstore.Store) *Exporter {
	return &Exporter{
		log:    baseLog.With("service", "Exporter"),
		store:  store,
		assets: assets,
	}
}

// ExportToDir writes the complete archive tree for one course into dir.
func (ex *Exporter) ExportToDir(dbc dbctx.Context, courseKey keys.CourseKey, dir string) error {
	return ex.store.BulkOperations(dbc, courseKey, func(dbc dbctx.Context) error {
		isLibrary, err := ex.store.IsLibrary(dbc, courseKey)
		if err != nil {
			return err
		}
		root, tree, err := ex.store.GetCourse(dbc, courseKey, keys.BranchPublished)
		if err != nil {
			return err
		}

		rootNode, err := ex.buildNode(root, tree, nil)
		if err != nil {
			return err
		}
		w := olx.NewWriter(dir)
		if err := w.WriteCourse(rootNode, courseKey, isLibrary); err != nil {
			return err
		}
		if err := ex.writeFlatSidecars(dir, rootNode); err != nil {
			return err
		}
		if err := ex.writePolicies(dir, courseKey, root); err != nil {
			return err
		}
		if err := ex.exportAssets(dbc, courseKey, dir); err != nil {
			return err
		}
		if err := ex.exportCourseImage(dbc, courseKey, root, dir); err != nil {
			return err
		}
		return ex.exportDrafts(dbc, courseKey, tree, dir)
	})
}

// ExportTarGz serializes the course into a scratch tree under workDir and
// tars it. The returned path lets callers stream the archive with a
// precomputed Content-Length.
func (ex *Exporter) ExportTarGz(dbc dbctx.Context, courseKey keys.CourseKey, workDir string) (string, error) {
	rootName := olx.SafeName(courseKey.Course)
	treeDir := filepath.Join(workDir, rootName)
	if err := os.MkdirAll(treeDir, 0o755); err != nil {
		return "", err
	}
	if err := ex.ExportToDir(dbc, courseKey, treeDir); err != nil {
		return "", err
	}

	archivePath := filepath.Join(workDir, rootName+".tar.gz")
	f, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	if err := archive.WriteTarGz(treeDir, rootName, f); err != nil {
		f.Close()
		return "", err
	}
	return archivePath, f.Close()
}

// buildNode converts a stored block subtree into the on-disk node form,
// stripping topology attributes that only exist to survive a round trip.
func (ex *Exporter) buildNode(b *modulestore.Block, tree map[keys.UsageKey]*modulestore.Block, unit *keys.UsageKey) (*olx.Node, error) {
	cp := b.Clone()
	rewrite.StripImportAttrs(cp)

	node := &olx.Node{
		BlockType: cp.UsageKey.BlockType,
		URLName:   cp.UsageKey.BlockID,
		Fields:    cp.Fields,
	}
	if cp.UsageKey.BlockType == "vertical" {
		k := cp.UsageKey.ForBranch(keys.BranchNone)
		unit = &k
	}
	for _, childKey := range cp.Children {
		child, ok := tree[childKey.ForBranch(keys.BranchNone)]
		if !ok {
			return nil, &SerializationError{
				Location: childKey,
				Unit:     unit,
				Err:      fmt.Errorf("child block missing from course"),
			}
		}
		childNode, err := ex.buildNode(child, tree, unit)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// writeFlatSidecars duplicates the payload of flat content types into their
// conventional archive directories.
func (ex *Exporter) writeFlatSidecars(dir string, node *olx.Node) error {
	if fd, ok := flatDirs[node.BlockType]; ok {
		if v, ok := node.Fields["data"]; ok && v.Kind == fields.KindString {
			out := filepath.Join(dir, fd.dir)
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			p := filepath.Join(out, olx.SafeName(node.URLName)+fd.ext)
			if err := os.WriteFile(p, []byte(v.Str), 0o644); err != nil {
				return err
			}
		}
	}
	for _, c := range node.Children {
		if err := ex.writeFlatSidecars(dir, c); err != nil {
			return err
		}
	}
	return nil
}

// writePolicies emits policy.json, grading_policy.json and the per-asset
// overlay placeholder (filled in by exportAssets).
func (ex *Exporter) writePolicies(dir string, courseKey keys.CourseKey, root *modulestore.Block) error {
	own := map[string]json.RawMessage{}
	for name, v := range root.Fields {
		if name == "xml_attributes" || name == "grading_policy" {
			continue
		}
		d := fields.Lookup("course", name)
		if d.Scope != fields.ScopeSettings {
			continue
		}
		raw, err := olx.ValueToJSON(v)
		if err != nil {
			return fmt.Errorf("policy field %s: %w", name, err)
		}
		own[name] = raw
	}
	pol := olx.Policy{"course/" + courseKey.Run: own}
	if err := olx.WritePolicy(dir, courseKey.Run, pol); err != nil {
		return err
	}

	if v, ok := root.Fields["grading_policy"]; ok && v.Kind == fields.KindJson && len(v.Raw) > 0 {
		if err := olx.WriteGradingPolicy(dir, courseKey.Run, v.Raw); err != nil {
			return err
		}
	}
	return nil
}

// exportAssets copies every live asset into static/, writes the metadata
// manifest, and emits the per-asset policy overlay.
func (ex *Exporter) exportAssets(dbc dbctx.Context, courseKey keys.CourseKey, dir string) error {
	assets, _, err := ex.assets.GetAllForCourse(dbc, courseKey, repos.AssetPage{})
	if err != nil {
		return err
	}

	var records []olx.AssetRecord
	overlay := map[string]olx.AssetPolicy{}
	for _, a := range assets {
		if a.Key.AssetType == "thumbnail" {
			continue
		}
		rel := a.ImportPath
		if rel == "" {
			rel = a.Key.Name
		}
		if err := ex.copyAsset(dbc, a.Key, filepath.Join(dir, "static", filepath.FromSlash(rel))); err != nil {
			return err
		}

		rec := olx.AssetRecord{
			AssetType:    a.Key.AssetType,
			Basename:     a.Key.Name,
			InternalName: a.Digest,
			Locked:       a.Locked,
			EditedOn:     a.UploadedAt.UTC().Format("2006-01-02T15:04:05Z"),
			CurrVersion:  a.CurrVersion,
			PrevVersion:  a.PrevVersion,
			ContentType:  a.ContentType,
			MD5:          a.Digest,
			ImportPath:   a.ImportPath,
		}
		if a.ThumbnailLocation != nil {
			rec.Thumbnail = a.ThumbnailLocation.C4xPath()
		}
		records = append(records, rec)

		overlay[rel] = olx.AssetPolicy{
			DisplayName: a.Key.Name,
			ContentType: a.ContentType,
			Locked:      a.Locked,
		}
	}
	if err := olx.WriteAssetManifest(dir, records); err != nil {
		return err
	}
	return olx.WriteAssetPolicies(dir, overlay)
}

// defaultCourseImage is the filename a course image carries until someone
// uploads a replacement.
const defaultCourseImage = "images_course_image.jpg"

// exportCourseImage duplicates the default course image at the
// static/images/course_image.jpg path older tooling reads. A renamed image
// already exports under its own name and gets no copy; a course with no image
// asset is left alone.
func (ex *Exporter) exportCourseImage(dbc dbctx.Context, courseKey keys.CourseKey, root *modulestore.Block, dir string) error {
	name := defaultCourseImage
	if v, ok := root.Fields["course_image"]; ok && v.Kind == fields.KindString && v.Str != "" {
		name = v.Str
	}
	if name != defaultCourseImage {
		return nil
	}
	key := keys.NewAssetKey(courseKey, "asset", name)
	dst := filepath.Join(dir, "static", "images", "course_image.jpg")
	if err := ex.copyAsset(dbc, key, dst); err != nil {
		var nf *contentstore.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	return nil
}

func (ex *Exporter) copyAsset(dbc dbctx.Context, key keys.AssetKey, dst string) error {
	a, err := ex.assets.Find(dbc, key, true)
	if err != nil {
		return err
	}
	defer a.Stream.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, a.Stream); err != nil {
		return err
	}
	return f.Close()
}

// exportDrafts writes the drafts/ overlay: changed non-direct-only draft
// blocks, subtree roots only, each stamped with its placement.
func (ex *Exporter) exportDrafts(dbc dbctx.Context, courseKey keys.CourseKey, published map[keys.UsageKey]*modulestore.Block, dir string) error {
	draftBlocks, err := ex.store.GetBranchBlocks(dbc, courseKey, keys.BranchDraft)
	if err != nil {
		return err
	}

	changed := map[keys.UsageKey]*modulestore.Block{}
	for _, b := range draftBlocks {
		if modulestore.IsDirectOnly(b.UsageKey.BlockType) {
			continue
		}
		has, err := ex.store.HasChanges(dbc, b.UsageKey)
		if err != nil {
			return err
		}
		if has {
			changed[b.UsageKey.ForBranch(keys.BranchNone)] = b
		}
	}
	if len(changed) == 0 {
		return nil
	}

	// Parent placement comes from the draft-preferred view of the tree.
	parentOf := map[keys.UsageKey]placement{}
	record := func(parent *modulestore.Block) {
		for i, c := range parent.Children {
			k := c.ForBranch(keys.BranchNone)
			parentOf[k] = placement{parent: parent.UsageKey.ForBranch(keys.BranchNone), index: i}
		}
	}
	for _, b := range published {
		if _, isDraft := changed[b.UsageKey.ForBranch(keys.BranchNone)]; !isDraft {
			record(b)
		}
	}
	for _, b := range draftBlocks {
		record(b)
	}

	w := olx.NewWriter(filepath.Join(dir, "drafts"))
	for key, b := range changed {
		// Subtree roots only: a draft whose parent is also an exported draft
		// is reached through that parent's children.
		if p, ok := parentOf[key]; ok {
			if _, parentIsDraft := changed[p.parent]; parentIsDraft {
				continue
			}
		}
		node, err := ex.buildDraftNode(dbc, b, changed)
		if err != nil {
			return err
		}
		if p, ok := parentOf[key]; ok {
			node.SetXMLAttr("parent_url", p.parent.String())
			node.SetXMLAttr("index_in_children_list", strconv.Itoa(p.index))
		}
		if err := w.WriteBlockFile(node, node.URLName); err != nil {
			return err
		}
	}
	return nil
}

type placement struct {
	parent keys.UsageKey
	index  int
}

// buildDraftNode resolves children draft-first, since a draft subtree may
// hold draft-only blocks invisible to the published branch.
func (ex *Exporter) buildDraftNode(dbc dbctx.Context, b *modulestore.Block, changed map[keys.UsageKey]*modulestore.Block) (*olx.Node, error) {
	cp := b.Clone()
	rewrite.StripImportAttrs(cp)
	node := &olx.Node{
		BlockType: cp.UsageKey.BlockType,
		URLName:   cp.UsageKey.BlockID,
		Fields:    cp.Fields,
	}
	for _, childKey := range cp.Children {
		child, ok := changed[childKey.ForBranch(keys.BranchNone)]
		if !ok {
			loaded, err := ex.store.GetItemPreferDraft(dbc, childKey)
			if err != nil {
				k := cp.UsageKey.ForBranch(keys.BranchNone)
				return nil, &SerializationError{Location: childKey, Unit: &k, Err: err}
			}
			child = loaded
		}
		childNode, err := ex.buildDraftNode(dbc, child, changed)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}
