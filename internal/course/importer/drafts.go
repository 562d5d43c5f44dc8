package importer

import (
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/yungbote/courseport-backend/internal/course/rewrite"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/olx"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
)

// draftNode pairs a parsed draft file with its recorded placement.
type draftNode struct {
	node      *olx.Node
	parentURL string
	index     int
	hasIndex  bool
}

// importDrafts replays the drafts/ overlay: placement-bearing files only,
// ordered by their recorded child index, subtree roots only.
func (imp *Importer) importDrafts(dbc dbctx.Context, reader *olx.Reader, source, dest keys.CourseKey, rw *rewrite.Rewriter, userID uuid.UUID, opts Options) error {
	nodes, err := reader.ReadDrafts()
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	// Only files carrying placement metadata are draft units; anything else
	// is a descendant reached through its parent.
	var drafts []draftNode
	inSet := map[string]bool{}
	for _, n := range nodes {
		pu, ok := n.XMLAttr("parent_url")
		if !ok {
			continue
		}
		d := draftNode{node: n, parentURL: pu}
		if idx, ok := n.XMLAttr("index_in_children_list"); ok {
			if i, err := strconv.Atoi(idx); err == nil {
				d.index = i
				d.hasIndex = true
			}
		}
		drafts = append(drafts, d)
		inSet[n.BlockType+"/"+n.URLName] = true
	}
	sort.SliceStable(drafts, func(i, j int) bool { return drafts[i].index < drafts[j].index })

	return imp.store.BulkOperations(dbc, dest, func(dbc dbctx.Context) error {
		for _, d := range drafts {
			if parent, ok := parseParentURL(d.parentURL); ok && inSet[parent.BlockType+"/"+parent.BlockID] {
				continue // descendant of another draft; reached by recursion
			}
			if err := imp.importDraftRoot(dbc, d, source, dest, rw, userID, opts); err != nil {
				return err
			}
		}
		return nil
	})
}

func (imp *Importer) importDraftRoot(dbc dbctx.Context, d draftNode, source, dest keys.CourseKey, rw *rewrite.Rewriter, userID uuid.UUID, opts Options) error {
	blockKey := keys.NewUsageKey(dest, d.node.BlockType, d.node.URLName)

	// Draft-only blocks were filtered out of the published export, so the
	// parent may not list this child yet.
	if parentKey, ok := parseParentURL(d.parentURL); ok && d.hasIndex {
		parentKey = parentKey.MapInto(dest)
		parent, err := imp.store.GetItemPreferDraft(dbc, parentKey)
		if err != nil {
			return imp.blockFailure(dbc, dest, d.node, blockKey, err, opts)
		}
		if !hasChild(parent.Children, blockKey) {
			idx := min(d.index, len(parent.Children))
			parent.Children = append(parent.Children[:idx], append([]keys.UsageKey{blockKey}, parent.Children[idx:]...)...)
			if err := imp.store.UpdateItem(dbc, parent, userID, keys.BranchDraft); err != nil {
				return err
			}
		}
	}

	return imp.importTree(dbc, d.node, source, dest, rw, userID, opts, keys.BranchDraft)
}

func hasChild(children []keys.UsageKey, key keys.UsageKey) bool {
	for _, c := range children {
		if c.BlockID == key.BlockID && c.BlockType == key.BlockType {
			return true
		}
	}
	return false
}

// parseParentURL accepts the canonical usage-key form; malformed parent
// pointers degrade to "no placement".
func parseParentURL(s string) (keys.UsageKey, bool) {
	k, err := keys.ParseUsageKey(s)
	if err != nil {
		return keys.UsageKey{}, false
	}
	return k, true
}
