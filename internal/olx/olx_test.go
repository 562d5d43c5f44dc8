package olx

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/keys"
)

func sampleTree() *Node {
	problem := &Node{
		BlockType: "problem",
		URLName:   "p1",
		Fields: fields.Map{
			"display_name": fields.String("Problem One"),
			"weight":       fields.Number(2.5),
			"max_attempts": fields.Number(3),
			"data":         fields.String("<problem><p>pick one</p></problem>"),
		},
	}
	html := &Node{
		BlockType: "html",
		URLName:   "intro",
		Fields: fields.Map{
			"display_name": fields.String("Intro"),
			"data":         fields.String("<p>hello & welcome</p>"),
		},
	}
	vertical := &Node{
		BlockType: "vertical",
		URLName:   "v1",
		Fields:    fields.Map{"display_name": fields.String("Unit 1")},
		Children:  []*Node{html, problem},
	}
	sequential := &Node{
		BlockType: "sequential",
		URLName:   "s1",
		Fields: fields.Map{
			"display_name": fields.String("Subsection"),
			"graded":       fields.Boolean(true),
		},
		Children: []*Node{vertical},
	}
	chapter := &Node{
		BlockType: "chapter",
		URLName:   "ch1",
		Fields:    fields.Map{"display_name": fields.String("Week 1")},
		Children:  []*Node{sequential},
	}
	return &Node{
		BlockType: "course",
		URLName:   RootBlockID,
		Fields: fields.Map{
			"display_name": fields.String("Toy Course"),
			"tabs":         fields.Json(json.RawMessage(`[{"type":"courseware"}]`)),
			"self_paced":   fields.Boolean(false),
		},
		Children: []*Node{chapter},
	}
}

func assertNodeEqual(t *testing.T, want, got *Node) {
	t.Helper()
	if want.BlockType != got.BlockType || want.URLName != got.URLName {
		t.Fatalf("identity: want %s/%s, got %s/%s", want.BlockType, want.URLName, got.BlockType, got.URLName)
	}
	if !want.Fields.Equal(got.Fields) {
		t.Fatalf("fields on %s/%s: want %v, got %v", want.BlockType, want.URLName, want.Fields, got.Fields)
	}
	if len(want.Children) != len(got.Children) {
		t.Fatalf("children on %s: want %d, got %d", want.URLName, len(want.Children), len(got.Children))
	}
	for i := range want.Children {
		assertNodeEqual(t, want.Children[i], got.Children[i])
	}
}

func TestCourseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	course := keys.NewCourseKey("edX", "toy", "2024")
	root := sampleTree()

	if err := NewWriter(dir).WriteCourse(root, course, false); err != nil {
		t.Fatalf("WriteCourse: %v", err)
	}

	rootDir, isLibrary, err := FindRoot(dir)
	if err != nil {
		t.Fatalf("FindRoot: %v", err)
	}
	if isLibrary || rootDir != dir {
		t.Fatalf("root discovery: dir=%q isLibrary=%v", rootDir, isLibrary)
	}

	r := NewReader(rootDir, false)
	gotKey, err := r.CourseKey()
	if err != nil {
		t.Fatalf("CourseKey: %v", err)
	}
	if gotKey != course {
		t.Fatalf("course key: %v", gotKey)
	}

	got, err := r.ReadCourse()
	if err != nil {
		t.Fatalf("ReadCourse: %v", err)
	}
	assertNodeEqual(t, root, got)
}

func TestLibraryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	course := keys.NewCourseKey("edX", "lib1", "library")
	root := &Node{
		BlockType: "course",
		URLName:   RootBlockID,
		Fields:    fields.Map{"display_name": fields.String("A Library")},
	}
	if err := NewWriter(dir).WriteCourse(root, course, true); err != nil {
		t.Fatalf("WriteCourse: %v", err)
	}

	rootDir, isLibrary, err := FindRoot(dir)
	if err != nil || !isLibrary {
		t.Fatalf("FindRoot: %v isLibrary=%v", err, isLibrary)
	}
	r := NewReader(rootDir, true)
	gotKey, err := r.CourseKey()
	if err != nil || gotKey != course {
		t.Fatalf("CourseKey: %v %v", gotKey, err)
	}
	got, err := r.ReadCourse()
	if err != nil {
		t.Fatalf("ReadCourse: %v", err)
	}
	assertNodeEqual(t, root, got)
}

func TestFindRootNested(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "pack", "inner")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "course.xml"), []byte(`<course org="a" course="b" url_name="c"/>`), 0o644); err != nil {
		t.Fatal(err)
	}
	rootDir, isLibrary, err := FindRoot(dir)
	if err != nil || isLibrary || rootDir != nested {
		t.Fatalf("FindRoot: %q %v %v", rootDir, isLibrary, err)
	}
}

func TestFindRootMissing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.xml"), []byte("<bad/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := FindRoot(dir)
	var missing *MissingRootError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingRootError, got %v", err)
	}
}

func TestUnknownAttributesSurviveInXMLAttributes(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "video"), 0o755); err != nil {
		t.Fatal(err)
	}
	xmlBody := `<video display_name="Clip" youtube_id_1_0="abc" from="00:00:10" custom_flag="yes"/>`
	if err := os.WriteFile(filepath.Join(dir, "video", "vid1.xml"), []byte(xmlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewReader(dir, false)
	node, err := r.loadNode("video", "vid1", map[string]bool{})
	if err != nil {
		t.Fatalf("loadNode: %v", err)
	}
	if node.Fields["youtube_id_1_0"].Str != "abc" {
		t.Fatalf("known field lost: %v", node.Fields)
	}
	for _, name := range []string{"from", "custom_flag"} {
		if v, ok := node.XMLAttr(name); !ok || v == "" {
			t.Fatalf("attribute %q not preserved", name)
		}
	}

	if err := NewWriter(dir).WriteBlockFile(node, node.URLName); err != nil {
		t.Fatalf("WriteBlockFile: %v", err)
	}
	again, err := NewReader(dir, false).loadNode("video", "vid1", map[string]bool{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	assertNodeEqual(t, node, again)
}

func TestDraftsReadPlacement(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "drafts", "vertical"), 0o755); err != nil {
		t.Fatal(err)
	}
	parent := keys.NewUsageKey(keys.NewCourseKey("edX", "toy", "2024"), "sequential", "s1")
	body := `<vertical url_name="dv1" display_name="Draft Unit" parent_url="` + parent.String() + `" index_in_children_list="2"/>`
	if err := os.WriteFile(filepath.Join(dir, "drafts", "vertical", "dv1.xml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	drafts, err := NewReader(dir, false).ReadDrafts()
	if err != nil {
		t.Fatalf("ReadDrafts: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("drafts: %d", len(drafts))
	}
	d := drafts[0]
	if d.URLName != "dv1" || d.BlockType != "vertical" {
		t.Fatalf("draft identity: %s/%s", d.BlockType, d.URLName)
	}
	if pu, ok := d.XMLAttr("parent_url"); !ok || pu != parent.String() {
		t.Fatalf("parent_url: %q", pu)
	}
	if idx, ok := d.XMLAttr("index_in_children_list"); !ok || idx != "2" {
		t.Fatalf("index: %q", idx)
	}
}

func TestPolicyDeterministic(t *testing.T) {
	dir := t.TempDir()
	pol := Policy{
		"course/2024": {
			"zeta":  json.RawMessage(`"z"`),
			"alpha": json.RawMessage(`1`),
		},
	}
	if err := WritePolicy(dir, "2024", pol); err != nil {
		t.Fatalf("WritePolicy: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "policies", "2024", "policy.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(string(data), `"alpha"`) > strings.Index(string(data), `"zeta"`) {
		t.Fatalf("keys not sorted:\n%s", data)
	}
	if !strings.Contains(string(data), "\n    ") {
		t.Fatalf("not four-space indented:\n%s", data)
	}

	back, err := ReadPolicy(dir, "2024")
	if err != nil {
		t.Fatalf("ReadPolicy: %v", err)
	}
	if string(back["course/2024"]["alpha"]) != "1" {
		t.Fatalf("policy round trip: %v", back)
	}
}

func TestAssetManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	records := []AssetRecord{
		{AssetType: "asset", Basename: "b.txt", InternalName: "b.txt", ContentType: "text/plain", MD5: "22"},
		{AssetType: "asset", Basename: "a.txt", InternalName: "a.txt", ContentType: "text/plain", MD5: "11", Locked: true},
	}
	if err := WriteAssetManifest(dir, records); err != nil {
		t.Fatalf("WriteAssetManifest: %v", err)
	}
	back, err := ReadAssetManifest(dir)
	if err != nil {
		t.Fatalf("ReadAssetManifest: %v", err)
	}
	if len(back) != 2 || back[0].Basename != "a.txt" || !back[0].Locked || back[1].MD5 != "22" {
		t.Fatalf("manifest round trip: %+v", back)
	}
}

func TestSafeName(t *testing.T) {
	if got := SafeName(`a/b\c:d` + "\x00e"); got != "a_b_c_d_e" {
		t.Fatalf("SafeName: %q", got)
	}
}
