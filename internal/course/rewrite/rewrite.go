// Package rewrite re-homes cross-reference fields when a block tree moves
// from one course identity to another.
package rewrite

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/store/modulestore"
)

// ImportAttrs are xml_attributes used only to reconstruct tree topology on
// import; they never survive into an export.
var ImportAttrs = []string{"parent_url", "parent_sequential_url", "index_in_children_list"}

// Rewriter maps references from a source course into a destination course.
// References already pointing outside the source course are left alone.
type Rewriter struct {
	source  keys.CourseKey
	dest    keys.CourseKey
	assetRE *regexp.Regexp
}

func New(source, dest keys.CourseKey) *Rewriter {
	r := &Rewriter{source: source, dest: dest}
	if source != dest {
		r.assetRE = regexp.MustCompile(
			`/c4x/` + regexp.QuoteMeta(source.Org) + `/` + regexp.QuoteMeta(source.Course) + `/asset/([^\s"'<>]+)`)
	}
	return r
}

// RewriteBlock mutates the block in place: every Reference, ReferenceList and
// ReferenceValueDict entry homed in the source course moves to the
// destination, as do the children. Portable asset links inside string data
// become /static/ links.
func (r *Rewriter) RewriteBlock(b *modulestore.Block) {
	b.UsageKey = r.mapKey(b.UsageKey)
	for i, c := range b.Children {
		b.Children[i] = r.mapKey(c)
	}
	for name, v := range b.Fields {
		b.Fields[name] = r.rewriteValue(name, v)
	}
}

func (r *Rewriter) rewriteValue(name string, v fields.Value) fields.Value {
	switch v.Kind {
	case fields.KindReference:
		v.Ref = r.mapKey(v.Ref)
	case fields.KindReferenceList:
		for i, ref := range v.Refs {
			v.Refs[i] = r.mapKey(ref)
		}
	case fields.KindReferenceValueDict:
		for k, ref := range v.Map {
			v.Map[k] = r.mapKey(ref)
		}
	case fields.KindString:
		if name == "data" && r.assetRE != nil {
			v.Str = r.assetRE.ReplaceAllString(v.Str, "/static/$1")
		}
	}
	return v
}

func (r *Rewriter) mapKey(k keys.UsageKey) keys.UsageKey {
	if k.CourseKey == r.source {
		return k.MapInto(r.dest)
	}
	return k
}

// StripImportAttrs removes the topology attributes a draft file carries.
func StripImportAttrs(b *modulestore.Block) {
	v, ok := b.Fields["xml_attributes"]
	if !ok || v.Kind != fields.KindJson || len(v.Raw) == 0 {
		return
	}
	var m map[string]string
	if err := json.Unmarshal(v.Raw, &m); err != nil {
		return
	}
	for _, name := range ImportAttrs {
		delete(m, name)
	}
	if len(m) == 0 {
		delete(b.Fields, "xml_attributes")
		return
	}
	raw, _ := json.Marshal(m)
	b.Fields["xml_attributes"] = fields.Json(raw)
}

// Verify walks every reference field of a block and reports the first one not
// homed in the block's own course. Import records these as dangling rather
// than failing.
func Verify(b *modulestore.Block) error {
	home := b.UsageKey.CourseKey
	check := func(name string, ref keys.UsageKey) error {
		if ref.CourseKey != home {
			return fmt.Errorf("field %s of %s references foreign course %s", name, b.UsageKey, ref.CourseKey)
		}
		return nil
	}
	for name, v := range b.Fields {
		switch v.Kind {
		case fields.KindReference:
			if err := check(name, v.Ref); err != nil {
				return err
			}
		case fields.KindReferenceList:
			for _, ref := range v.Refs {
				if err := check(name, ref); err != nil {
					return err
				}
			}
		case fields.KindReferenceValueDict:
			for _, ref := range v.Map {
				if err := check(name, ref); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
