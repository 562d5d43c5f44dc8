package handlers

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/courseport-backend/internal/archive"
	"github.com/yungbote/courseport-backend/internal/blob"
	"github.com/yungbote/courseport-backend/internal/course/exporter"
	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/course/importer"
	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/data/repos/testutil"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/olx"
	"github.com/yungbote/courseport-backend/internal/platform/ctxutil"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/status"
	"github.com/yungbote/courseport-backend/internal/store/contentstore"
	"github.com/yungbote/courseport-backend/internal/store/modulestore"
)

type importRig struct {
	engine     *gin.Engine
	store      *modulestore.Store
	cache      *status.MemoryCache
	uploadRoot string
	staff      *ctxutil.RequestData
}

func newImportRig(t *testing.T) *importRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	blobs, err := blob.NewLocalStore(log, t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	store := modulestore.New(gdb, log, repos.NewCourseRunRepo(gdb, log), repos.NewBlockRepo(gdb, log))
	assets := contentstore.New(gdb, log, repos.NewAssetRepo(gdb, log), blobs)
	imp := importer.New(log, store, assets, repos.NewImportErrorRepo(gdb, log))
	ex := exporter.New(log, store, assets)

	uploadRoot := t.TempDir()
	extractor, err := archive.NewExtractor(log, uploadRoot)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	cache := status.NewMemoryCache()
	h := NewImportExportHandler(log, imp, ex, extractor, cache, uploadRoot)

	r := gin.New()
	r.POST("/api/courses/:course_key/import", h.Import)
	r.GET("/api/courses/:course_key/import_status/:filename", h.ImportStatus)
	r.GET("/api/courses/:course_key/export", h.Export)

	return &importRig{
		engine:     r,
		store:      store,
		cache:      cache,
		uploadRoot: uploadRoot,
		staff:      &ctxutil.RequestData{UserID: uuid.New(), Username: "staff", IsStaff: true},
	}
}

func (rig *importRig) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req = req.WithContext(ctxutil.WithRequestData(req.Context(), rig.staff))
	w := httptest.NewRecorder()
	rig.engine.ServeHTTP(w, req)
	return w
}

// uploadChunk posts one multipart chunk; contentRange may be empty for a
// single-shot upload.
func (rig *importRig) uploadChunk(t *testing.T, courseKey keys.CourseKey, filename string, data []byte, contentRange string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("course-data", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/courses/"+courseKey.String()+"/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if contentRange != "" {
		req.Header.Set("Content-Range", contentRange)
	}
	return rig.do(t, req)
}

type importReply struct {
	ImportStatus int    `json:"ImportStatus"`
	ErrMsg       string `json:"ErrMsg"`
}

func decodeReply(t *testing.T, w *httptest.ResponseRecorder) importReply {
	t.Helper()
	var reply importReply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply %q: %v", w.Body.String(), err)
	}
	return reply
}

// buildArchive serializes a minimal course for sourceKey as a tar.gz.
func buildArchive(t *testing.T, sourceKey keys.CourseKey) []byte {
	t.Helper()
	dir := t.TempDir()
	html := &olx.Node{
		BlockType: "html",
		URLName:   "h1",
		Fields:    fields.Map{"display_name": fields.String("Intro"), "data": fields.String("<p>hello</p>")},
	}
	vertical := &olx.Node{
		BlockType: "vertical",
		URLName:   "v1",
		Fields:    fields.Map{"display_name": fields.String("Unit")},
		Children:  []*olx.Node{html},
	}
	sequential := &olx.Node{
		BlockType: "sequential",
		URLName:   "s1",
		Fields:    fields.Map{"display_name": fields.String("Subsection")},
		Children:  []*olx.Node{vertical},
	}
	chapter := &olx.Node{
		BlockType: "chapter",
		URLName:   "ch1",
		Fields:    fields.Map{"display_name": fields.String("Week 1")},
		Children:  []*olx.Node{sequential},
	}
	root := &olx.Node{
		BlockType: "course",
		URLName:   olx.RootBlockID,
		Fields:    fields.Map{"display_name": fields.String("Uploaded Course")},
		Children:  []*olx.Node{chapter},
	}
	if err := olx.NewWriter(dir).WriteCourse(root, sourceKey, false); err != nil {
		t.Fatalf("write course: %v", err)
	}

	var buf bytes.Buffer
	if err := archive.WriteTarGz(dir, "course", &buf); err != nil {
		t.Fatalf("WriteTarGz: %v", err)
	}
	return buf.Bytes()
}

func testCourseKey(name string) keys.CourseKey {
	return keys.NewCourseKey("edX", name+uuid.NewString()[:8], "2024")
}

func TestParseContentRange(t *testing.T) {
	cases := []struct {
		header  string
		want    chunkRange
		wantErr bool
	}{
		{header: "bytes 0-99/200", want: chunkRange{start: 0, stop: 99, end: 200}},
		{header: "0-99/200", want: chunkRange{start: 0, stop: 99, end: 200}},
		{header: "bytes 100-199/200", want: chunkRange{start: 100, stop: 199, end: 200}},
		{header: "bytes 0-0/1", want: chunkRange{start: 0, stop: 0, end: 1}},
		{header: "bytes 99-0/200", wantErr: true},
		{header: "bytes 0-99/50", wantErr: true},
		{header: "bytes 0-99", wantErr: true},
		{header: "bytes x-y/z", wantErr: true},
		{header: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q", tc.header), func(t *testing.T) {
			got, err := parseContentRange(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseContentRange: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestChunkRangeIsFinal(t *testing.T) {
	if (chunkRange{start: 0, stop: 99, end: 200}).isFinal() {
		t.Fatal("middle chunk marked final")
	}
	if !(chunkRange{start: 100, stop: 199, end: 200}).isFinal() {
		t.Fatal("final chunk not recognized")
	}
}

func TestImportSingleShot(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("single")
	data := buildArchive(t, courseKey)

	w := rig.uploadChunk(t, courseKey, "course.tar.gz", data, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
	if reply := decodeReply(t, w); reply.ImportStatus != status.StageSuccess {
		t.Fatalf("stage: %d", reply.ImportStatus)
	}

	has, err := rig.store.HasCourse(dbctx.New(context.Background()), courseKey, false)
	if err != nil || !has {
		t.Fatalf("HasCourse: %v %v", has, err)
	}

	// The chunk directory is cleaned up after the pipeline runs.
	encoded := base64.URLEncoding.EncodeToString([]byte(courseKey.String()))
	if _, err := os.Stat(filepath.Join(rig.uploadRoot, encoded)); !os.IsNotExist(err) {
		t.Fatalf("chunk dir still present: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/courses/"+courseKey.String()+"/import_status/course.tar.gz", nil)
	w = rig.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint: %d", w.Code)
	}
	if reply := decodeReply(t, w); reply.ImportStatus != status.StageSuccess {
		t.Fatalf("published stage: %d", reply.ImportStatus)
	}
}

func TestImportChunked(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("chunked")
	data := buildArchive(t, courseKey)
	split := len(data) / 2
	total := len(data)

	w := rig.uploadChunk(t, courseKey, "course.tar.gz", data[:split],
		fmt.Sprintf("bytes 0-%d/%d", split-1, total))
	if w.Code != http.StatusOK {
		t.Fatalf("first chunk status: %d body=%s", w.Code, w.Body.String())
	}
	if reply := decodeReply(t, w); reply.ImportStatus != status.StageIdle {
		t.Fatalf("first chunk stage: %d", reply.ImportStatus)
	}

	w = rig.uploadChunk(t, courseKey, "course.tar.gz", data[split:],
		fmt.Sprintf("bytes %d-%d/%d", split, total-1, total))
	if w.Code != http.StatusOK {
		t.Fatalf("final chunk status: %d body=%s", w.Code, w.Body.String())
	}
	if reply := decodeReply(t, w); reply.ImportStatus != status.StageSuccess {
		t.Fatalf("final chunk stage: %d", reply.ImportStatus)
	}

	has, err := rig.store.HasCourse(dbctx.New(context.Background()), courseKey, false)
	if err != nil || !has {
		t.Fatalf("HasCourse: %v %v", has, err)
	}
}

func TestImportChunkMismatch(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("gap")

	// A non-initial chunk with nothing on disk is a corrupted upload.
	w := rig.uploadChunk(t, courseKey, "course.tar.gz", []byte("tail"), "bytes 100-103/200")
	if w.Code != http.StatusConflict {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
	reply := decodeReply(t, w)
	if reply.ImportStatus != -status.StageExtracting {
		t.Fatalf("stage: %d", reply.ImportStatus)
	}
	if reply.ErrMsg == "" {
		t.Fatal("missing error message")
	}

	encoded := base64.URLEncoding.EncodeToString([]byte(courseKey.String()))
	if _, err := os.Stat(filepath.Join(rig.uploadRoot, encoded)); !os.IsNotExist(err) {
		t.Fatalf("chunk dir still present: %v", err)
	}
}

func TestImportDuplicateFinalChunk(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("dup")
	full := []byte("complete archive bytes already on disk")

	encoded := base64.URLEncoding.EncodeToString([]byte(courseKey.String()))
	chunkDir := filepath.Join(rig.uploadRoot, encoded, "course.tar.gz")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(chunkDir, "course.tar.gz"), full, 0o644); err != nil {
		t.Fatal(err)
	}
	rig.cache.Set(context.Background(), rig.staff.UserID.String(), courseKey.String(), "course.tar.gz", status.StageSuccess)

	// Re-delivering an early chunk of a finished upload is acknowledged
	// without touching the file or rerunning the pipeline.
	w := rig.uploadChunk(t, courseKey, "course.tar.gz", full[:1],
		fmt.Sprintf("bytes 0-0/%d", len(full)))
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
	if reply := decodeReply(t, w); reply.ImportStatus != status.StageSuccess {
		t.Fatalf("stage: %d", reply.ImportStatus)
	}
	got, err := os.ReadFile(filepath.Join(chunkDir, "course.tar.gz"))
	if err != nil || !bytes.Equal(got, full) {
		t.Fatalf("file modified: %q err=%v", got, err)
	}
}

func TestImportRejectsNonTarGz(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("zip")
	w := rig.uploadChunk(t, courseKey, "course.zip", []byte("PK"), "")
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status: %d", w.Code)
	}
	if reply := decodeReply(t, w); reply.ImportStatus != -status.StageExtracting {
		t.Fatalf("stage: %d", reply.ImportStatus)
	}
}

func TestImportMissingRoot(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("noroot")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a course"), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := archive.WriteTarGz(dir, "course", &buf); err != nil {
		t.Fatalf("WriteTarGz: %v", err)
	}

	w := rig.uploadChunk(t, courseKey, "course.tar.gz", buf.Bytes(), "")
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
	if reply := decodeReply(t, w); reply.ImportStatus != -status.StageValidating {
		t.Fatalf("stage: %d", reply.ImportStatus)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/courses/"+courseKey.String()+"/import_status/course.tar.gz", nil)
	w = rig.do(t, req)
	if reply := decodeReply(t, w); reply.ImportStatus != -status.StageValidating {
		t.Fatalf("published stage: %d", reply.ImportStatus)
	}
}

func TestImportUnsafeArchive(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("unsafe")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte("outside")
	if err := tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0o644, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gz.Close()

	w := rig.uploadChunk(t, courseKey, "course.tar.gz", buf.Bytes(), "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
	if reply := decodeReply(t, w); reply.ImportStatus != -status.StageExtracting {
		t.Fatalf("stage: %d", reply.ImportStatus)
	}
}

func TestExportAcceptNegotiation(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("export")
	data := buildArchive(t, courseKey)
	if w := rig.uploadChunk(t, courseKey, "course.tar.gz", data, ""); w.Code != http.StatusOK {
		t.Fatalf("import status: %d body=%s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/courses/"+courseKey.String()+"/export", nil)
	if w := rig.do(t, req); w.Code != http.StatusNotAcceptable {
		t.Fatalf("missing accept status: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/courses/"+courseKey.String()+"/export", nil)
	req.Header.Set("Accept", tgzContentType)
	w := rig.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("export status: %d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != tgzContentType {
		t.Fatalf("Content-Type: %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Fatal("empty export body")
	}

	// The query-string form works for clients that cannot set headers.
	req = httptest.NewRequest(http.MethodGet, "/api/courses/"+courseKey.String()+"/export?accept="+tgzContentType, nil)
	if w := rig.do(t, req); w.Code != http.StatusOK {
		t.Fatalf("query accept status: %d", w.Code)
	}
}

func TestExportUnknownCourse(t *testing.T) {
	rig := newImportRig(t)
	courseKey := testCourseKey("ghost")
	req := httptest.NewRequest(http.MethodGet, "/api/courses/"+courseKey.String()+"/export", nil)
	req.Header.Set("Accept", tgzContentType)
	if w := rig.do(t, req); w.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", w.Code)
	}
}
