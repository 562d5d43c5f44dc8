package rewrite

import (
	"encoding/json"
	"testing"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/store/modulestore"
)

var (
	src  = keys.NewCourseKey("edX", "full", "6.002_Spring_2012")
	dst  = keys.NewCourseKey("MITx", "999", "Robot_Super_Course")
	away = keys.NewCourseKey("other", "course", "run")
)

func TestRewriteReferences(t *testing.T) {
	r := New(src, dst)
	block := &modulestore.Block{
		UsageKey: keys.NewUsageKey(src, "split_test", "st1"),
		Fields: fields.Map{
			"display_name": fields.String("AB Test"),
			"group_id_to_child": fields.ReferenceValueDict(map[string]keys.UsageKey{
				"0": keys.NewUsageKey(src, "vertical", "a"),
				"1": keys.NewUsageKey(away, "vertical", "b"),
			}),
			"sources": fields.ReferenceList([]keys.UsageKey{
				keys.NewUsageKey(src, "problem", "p1"),
			}),
			"parent": fields.Reference(keys.NewUsageKey(src, "sequential", "s1")),
		},
		Children: []keys.UsageKey{
			keys.NewUsageKey(src, "vertical", "a"),
		},
	}

	r.RewriteBlock(block)

	if block.UsageKey.CourseKey != dst {
		t.Fatalf("usage key not rewritten: %v", block.UsageKey)
	}
	if block.Children[0].CourseKey != dst {
		t.Fatalf("child not rewritten: %v", block.Children[0])
	}
	m := block.Fields["group_id_to_child"].Map
	if m["0"].CourseKey != dst {
		t.Fatalf("dict entry not rewritten: %v", m["0"])
	}
	if m["1"].CourseKey != away {
		t.Fatalf("foreign reference must be untouched: %v", m["1"])
	}
	if block.Fields["sources"].Refs[0].CourseKey != dst {
		t.Fatalf("list entry not rewritten")
	}
	if block.Fields["parent"].Ref.CourseKey != dst {
		t.Fatalf("reference not rewritten")
	}
}

func TestRewriteDataAssetLinks(t *testing.T) {
	r := New(src, dst)
	block := &modulestore.Block{
		UsageKey: keys.NewUsageKey(src, "html", "h1"),
		Fields: fields.Map{
			"data": fields.String(`<img src="/c4x/edX/full/asset/logo.png"/> and <a href="/c4x/Other/full/asset/x.png">keep</a>`),
		},
	}
	r.RewriteBlock(block)
	data := block.Fields["data"].Str
	want := `<img src="/static/logo.png"/> and <a href="/c4x/Other/full/asset/x.png">keep</a>`
	if data != want {
		t.Fatalf("data rewrite:\n got %s\nwant %s", data, want)
	}
}

func TestRewriteSameCourseLeavesData(t *testing.T) {
	r := New(src, src)
	block := &modulestore.Block{
		UsageKey: keys.NewUsageKey(src, "html", "h1"),
		Fields: fields.Map{
			"data": fields.String(`<img src="/c4x/edX/full/asset/logo.png"/>`),
		},
	}
	r.RewriteBlock(block)
	if block.Fields["data"].Str != `<img src="/c4x/edX/full/asset/logo.png"/>` {
		t.Fatalf("same-course rewrite must not touch data")
	}
}

func TestStripImportAttrs(t *testing.T) {
	raw, _ := json.Marshal(map[string]string{
		"parent_url":             "block-v1:edX+full+run+type@sequential+block@s1",
		"index_in_children_list": "0",
		"custom":                 "kept",
	})
	block := &modulestore.Block{
		UsageKey: keys.NewUsageKey(src, "vertical", "v1"),
		Fields:   fields.Map{"xml_attributes": fields.Json(raw)},
	}
	StripImportAttrs(block)

	var m map[string]string
	if err := json.Unmarshal(block.Fields["xml_attributes"].Raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["parent_url"]; ok {
		t.Fatalf("parent_url survived")
	}
	if m["custom"] != "kept" {
		t.Fatalf("custom attribute lost")
	}

	onlyTopo, _ := json.Marshal(map[string]string{"index_in_children_list": "3"})
	block2 := &modulestore.Block{
		UsageKey: keys.NewUsageKey(src, "vertical", "v2"),
		Fields:   fields.Map{"xml_attributes": fields.Json(onlyTopo)},
	}
	StripImportAttrs(block2)
	if _, ok := block2.Fields["xml_attributes"]; ok {
		t.Fatalf("emptied xml_attributes should be removed")
	}
}

func TestVerify(t *testing.T) {
	good := &modulestore.Block{
		UsageKey: keys.NewUsageKey(dst, "conditional", "c1"),
		Fields: fields.Map{
			"sources": fields.ReferenceList([]keys.UsageKey{keys.NewUsageKey(dst, "problem", "p1")}),
		},
	}
	if err := Verify(good); err != nil {
		t.Fatalf("Verify good: %v", err)
	}

	bad := &modulestore.Block{
		UsageKey: keys.NewUsageKey(dst, "conditional", "c1"),
		Fields: fields.Map{
			"sources": fields.ReferenceList([]keys.UsageKey{keys.NewUsageKey(src, "problem", "p1")}),
		},
	}
	if err := Verify(bad); err == nil {
		t.Fatalf("Verify must flag foreign reference")
	}
}
