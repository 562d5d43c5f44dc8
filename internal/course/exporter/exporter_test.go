package exporter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/courseport-backend/internal/blob"
	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/data/repos/testutil"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/olx"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/store/contentstore"
	"github.com/yungbote/courseport-backend/internal/store/modulestore"
)

type harness struct {
	ex     *Exporter
	store  *modulestore.Store
	assets *contentstore.Store
}

func newHarness(t *testing.T) (*harness, dbctx.Context) {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	blobs, err := blob.NewLocalStore(log, t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	store := modulestore.New(gdb, log, repos.NewCourseRunRepo(gdb, log), repos.NewBlockRepo(gdb, log))
	assets := contentstore.New(gdb, log, repos.NewAssetRepo(gdb, log), blobs)
	return &harness{
		ex:     New(log, store, assets),
		store:  store,
		assets: assets,
	}, dbctx.New(context.Background())
}

// seedCourse builds course -> chapter -> sequential -> vertical -> html on
// the published branch and returns the course key.
func seedCourse(t *testing.T, h *harness, dbc dbctx.Context, user uuid.UUID) keys.CourseKey {
	t.Helper()
	course := keys.NewCourseKey("edX", "exp"+uuid.New().String()[:8], "2024")
	if _, err := h.store.CreateCourse(dbc, course, user, false); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}

	write := func(blockType, blockID string, flds fields.Map, children []keys.UsageKey) keys.UsageKey {
		key := keys.NewUsageKey(course, blockType, blockID)
		if _, err := h.store.ImportXBlock(dbc, user, course, blockType, blockID, flds, children, keys.BranchPublished); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
		return key
	}

	html := write("html", "h1", fields.Map{
		"display_name": fields.String("Intro"),
		"data":         fields.String("<p>hi</p>"),
	}, nil)
	vertical := write("vertical", "v1", fields.Map{
		"display_name": fields.String("Unit"),
	}, []keys.UsageKey{html})
	seq := write("sequential", "s1", fields.Map{
		"display_name": fields.String("Subsection"),
	}, []keys.UsageKey{vertical})
	chapter := write("chapter", "ch1", fields.Map{
		"display_name": fields.String("Week 1"),
	}, []keys.UsageKey{seq})

	rootKey := h.store.MakeCourseUsageKey(course)
	root, err := h.store.GetItem(dbc, rootKey.ForBranch(keys.BranchPublished))
	if err != nil {
		t.Fatal(err)
	}
	root.Children = []keys.UsageKey{chapter}
	root.Fields["display_name"] = fields.String("Export Me")
	if err := h.store.UpdateItem(dbc, root, user, keys.BranchPublished); err != nil {
		t.Fatal(err)
	}
	return course
}

func TestExportPublishedTree(t *testing.T) {
	h, dbc := newHarness(t)
	user := uuid.New()
	course := seedCourse(t, h, dbc, user)

	asset := &contentstore.Asset{
		Key:         keys.NewAssetKey(course, "asset", "notes.txt"),
		ContentType: "text/plain",
		ImportPath:  "notes.txt",
		Locked:      true,
	}
	if err := h.assets.Save(dbc, asset, bytes.NewReader([]byte("remember")), user); err != nil {
		t.Fatalf("Save asset: %v", err)
	}

	dir := t.TempDir()
	if err := h.ex.ExportToDir(dbc, course, dir); err != nil {
		t.Fatalf("ExportToDir: %v", err)
	}

	for _, rel := range []string{
		"course.xml",
		filepath.Join("course", "2024.xml"),
		filepath.Join("chapter", "ch1.xml"),
		filepath.Join("sequential", "s1.xml"),
		filepath.Join("vertical", "v1.xml"),
		filepath.Join("html", "h1.xml"),
		filepath.Join("html", "h1.html"),
		filepath.Join("policies", "2024", "policy.json"),
		filepath.Join("policies", "assets.json"),
		filepath.Join("roots", "assets.xml"),
		filepath.Join("static", "notes.txt"),
	} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
	}

	pol, err := olx.ReadAssetPolicies(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !pol["notes.txt"].Locked {
		t.Fatalf("asset lock not in overlay: %+v", pol)
	}
	records, err := olx.ReadAssetManifest(dir)
	if err != nil || len(records) != 1 || records[0].Basename != "notes.txt" || !records[0].Locked {
		t.Fatalf("manifest: %+v err=%v", records, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "static", "notes.txt"))
	if err != nil || string(data) != "remember" {
		t.Fatalf("asset bytes: %q %v", data, err)
	}

	// No course image asset, no legacy copy.
	if _, err := os.Stat(filepath.Join(dir, "static", "images", "course_image.jpg")); !os.IsNotExist(err) {
		t.Fatalf("unexpected course image copy: %v", err)
	}
}

func TestExportDraftsOverlay(t *testing.T) {
	h, dbc := newHarness(t)
	user := uuid.New()
	course := seedCourse(t, h, dbc, user)

	// Edit the vertical on the draft branch and hang a draft-only html off it.
	vKey := keys.NewUsageKey(course, "vertical", "v1")
	vertical, err := h.store.GetItem(dbc, vKey.ForBranch(keys.BranchPublished))
	if err != nil {
		t.Fatal(err)
	}
	draftHTML := keys.NewUsageKey(course, "html", "pending")
	if _, err := h.store.ImportXBlock(dbc, user, course, "html", "pending", fields.Map{
		"display_name": fields.String("Pending"),
		"data":         fields.String("<p>soon</p>"),
	}, nil, keys.BranchDraft); err != nil {
		t.Fatal(err)
	}
	vertical.Fields["display_name"] = fields.String("Unit (edited)")
	vertical.Children = append(vertical.Children, draftHTML)
	if err := h.store.UpdateItem(dbc, vertical, user, keys.BranchDraft); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := h.ex.ExportToDir(dbc, course, dir); err != nil {
		t.Fatalf("ExportToDir: %v", err)
	}

	draftFile := filepath.Join(dir, "drafts", "vertical", "v1.xml")
	body, err := os.ReadFile(draftFile)
	if err != nil {
		t.Fatalf("draft file: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "parent_url=") || !strings.Contains(text, "index_in_children_list=") {
		t.Fatalf("placement not stamped:\n%s", text)
	}
	parentKey := keys.NewUsageKey(course, "sequential", "s1")
	if !strings.Contains(text, parentKey.String()) {
		t.Fatalf("parent_url wrong:\n%s", text)
	}

	// The draft-only child is reachable through the exported subtree root.
	if _, err := os.Stat(filepath.Join(dir, "drafts", "html", "pending.xml")); err != nil {
		t.Fatalf("draft child not exported: %v", err)
	}

	// The published serialization still shows the unedited vertical.
	pub, err := os.ReadFile(filepath.Join(dir, "vertical", "v1.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(pub), "edited") {
		t.Fatalf("published export picked up draft edit:\n%s", pub)
	}
}

func TestExportMissingChildFails(t *testing.T) {
	h, dbc := newHarness(t)
	user := uuid.New()
	course := seedCourse(t, h, dbc, user)

	vKey := keys.NewUsageKey(course, "vertical", "v1")
	vertical, err := h.store.GetItem(dbc, vKey.ForBranch(keys.BranchPublished))
	if err != nil {
		t.Fatal(err)
	}
	vertical.Children = append(vertical.Children, keys.NewUsageKey(course, "html", "ghost"))
	if err := h.store.UpdateItem(dbc, vertical, user, keys.BranchPublished); err != nil {
		t.Fatal(err)
	}

	err = h.ex.ExportToDir(dbc, course, t.TempDir())
	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
	if serr.Location.BlockID != "ghost" {
		t.Fatalf("wrong location: %v", serr.Location)
	}
	if serr.Unit == nil || serr.Unit.BlockID != "v1" {
		t.Fatalf("enclosing unit not recorded: %v", serr.Unit)
	}
}

func TestExportTarGz(t *testing.T) {
	h, dbc := newHarness(t)
	user := uuid.New()
	course := seedCourse(t, h, dbc, user)

	path, err := h.ex.ExportTarGz(dbc, course, t.TempDir())
	if err != nil {
		t.Fatalf("ExportTarGz: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("archive: %v size=%d", err, info.Size())
	}
	if !strings.HasSuffix(path, ".tar.gz") {
		t.Fatalf("path: %s", path)
	}
}

func TestExportCourseImageLegacyCopy(t *testing.T) {
	h, dbc := newHarness(t)
	user := uuid.New()
	course := seedCourse(t, h, dbc, user)

	img := &contentstore.Asset{
		Key:         keys.NewAssetKey(course, "asset", "images_course_image.jpg"),
		ContentType: "image/jpeg",
	}
	if err := h.assets.Save(dbc, img, bytes.NewReader([]byte("jpeg bytes")), user); err != nil {
		t.Fatalf("Save asset: %v", err)
	}

	dir := t.TempDir()
	if err := h.ex.ExportToDir(dbc, course, dir); err != nil {
		t.Fatalf("ExportToDir: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "static", "images", "course_image.jpg"))
	if err != nil || string(data) != "jpeg bytes" {
		t.Fatalf("legacy copy: %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "static", "images_course_image.jpg")); err != nil {
		t.Fatalf("image missing under its own name: %v", err)
	}
}

func TestExportCourseImageRenamedSkipsLegacyCopy(t *testing.T) {
	h, dbc := newHarness(t)
	user := uuid.New()
	course := seedCourse(t, h, dbc, user)

	rootKey := h.store.MakeCourseUsageKey(course)
	root, err := h.store.GetItem(dbc, rootKey.ForBranch(keys.BranchPublished))
	if err != nil {
		t.Fatal(err)
	}
	root.Fields["course_image"] = fields.String("just_a_test.jpg")
	if err := h.store.UpdateItem(dbc, root, user, keys.BranchPublished); err != nil {
		t.Fatal(err)
	}
	img := &contentstore.Asset{
		Key:         keys.NewAssetKey(course, "asset", "just_a_test.jpg"),
		ContentType: "image/jpeg",
	}
	if err := h.assets.Save(dbc, img, bytes.NewReader([]byte("custom")), user); err != nil {
		t.Fatalf("Save asset: %v", err)
	}

	dir := t.TempDir()
	if err := h.ex.ExportToDir(dbc, course, dir); err != nil {
		t.Fatalf("ExportToDir: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "static", "just_a_test.jpg")); err != nil {
		t.Fatalf("renamed image not exported: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "static", "images", "course_image.jpg")); !os.IsNotExist(err) {
		t.Fatalf("renamed image got a legacy copy: %v", err)
	}
}
