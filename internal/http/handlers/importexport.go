package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/courseport-backend/internal/archive"
	"github.com/yungbote/courseport-backend/internal/course/exporter"
	"github.com/yungbote/courseport-backend/internal/course/importer"
	"github.com/yungbote/courseport-backend/internal/http/response"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/observability"
	"github.com/yungbote/courseport-backend/internal/olx"
	"github.com/yungbote/courseport-backend/internal/platform/ctxutil"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
	"github.com/yungbote/courseport-backend/internal/status"
)

const tgzContentType = "application/x-tgz"

type ImportExportHandler struct {
	log        *logger.Logger
	importer   *importer.Importer
	exporter   *exporter.Exporter
	extractor  *archive.Extractor
	cache      status.Cache
	uploadRoot string
}

func NewImportExportHandler(log *logger.Logger, imp *importer.Importer, ex *exporter.Exporter, extractor *archive.Extractor, cache status.Cache, uploadRoot string) *ImportExportHandler {
	return &ImportExportHandler{
		log:        log.With("handler", "ImportExportHandler"),
		importer:   imp,
		exporter:   ex,
		extractor:  extractor,
		cache:      cache,
		uploadRoot: uploadRoot,
	}
}

// chunkRange is the parsed Content-Range of one upload chunk.
type chunkRange struct {
	start int64
	stop  int64
	end   int64 // total size, exclusive upper bound
}

func (r chunkRange) isFinal() bool { return r.stop == r.end-1 }

// parseContentRange accepts "bytes start-stop/end" and the bare
// "start-stop/end" form.
func parseContentRange(header string) (chunkRange, error) {
	header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "bytes"))
	slash := strings.Index(header, "/")
	dash := strings.Index(header, "-")
	if slash < 0 || dash < 0 || dash > slash {
		return chunkRange{}, fmt.Errorf("malformed content range %q", header)
	}
	start, err1 := strconv.ParseInt(strings.TrimSpace(header[:dash]), 10, 64)
	stop, err2 := strconv.ParseInt(strings.TrimSpace(header[dash+1:slash]), 10, 64)
	end, err3 := strconv.ParseInt(strings.TrimSpace(header[slash+1:]), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return chunkRange{}, fmt.Errorf("malformed content range %q", header)
	}
	if start < 0 || stop < start || end <= stop {
		return chunkRange{}, fmt.Errorf("incoherent content range %q", header)
	}
	return chunkRange{start: start, stop: stop, end: end}, nil
}

// Import accepts one chunk of a course archive and, on the final chunk,
// drives the whole import pipeline.
func (ih *ImportExportHandler) Import(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	courseKey, err := keys.ParseCourseKey(c.Param("course_key"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_key", err)
		return
	}

	file, header, err := c.Request.FormFile("course-data")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.HasSuffix(filename, ".tar.gz") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"ImportStatus": -status.StageExtracting,
			"ErrMsg":       "only .tar.gz archives are accepted",
		})
		return
	}

	user := rd.UserID.String()
	chunkDir := ih.chunkDir(courseKey, filename)
	chunkFile := filepath.Join(chunkDir, filename)

	cr, err := ih.resolveRange(c, header.Size)
	if err != nil {
		ih.failUpload(c, user, courseKey, filename, chunkDir, err)
		return
	}

	existing := int64(-1)
	if info, statErr := os.Stat(chunkFile); statErr == nil {
		existing = info.Size()
	}

	// A repeated delivery of the final chunk after the file is complete is
	// acknowledged without reprocessing.
	if existing > cr.stop && existing == cr.end {
		c.JSON(http.StatusOK, gin.H{"ImportStatus": ih.currentStage(c, user, courseKey, filename)})
		return
	}

	if err := ih.appendChunk(chunkFile, chunkDir, file, cr, existing); err != nil {
		ih.failUpload(c, user, courseKey, filename, chunkDir, err)
		return
	}
	observability.Current().AddUploadedBytes(cr.stop - cr.start + 1)

	if !cr.isFinal() {
		c.JSON(http.StatusOK, gin.H{"ImportStatus": status.StageIdle})
		return
	}

	ih.runPipeline(c, user, courseKey, filename, chunkDir, chunkFile)
}

func (ih *ImportExportHandler) chunkDir(courseKey keys.CourseKey, filename string) string {
	encoded := base64.URLEncoding.EncodeToString([]byte(courseKey.String()))
	return filepath.Join(ih.uploadRoot, encoded, filename)
}

func (ih *ImportExportHandler) resolveRange(c *gin.Context, size int64) (chunkRange, error) {
	header := c.GetHeader("Content-Range")
	if header == "" {
		// Single complete body.
		return chunkRange{start: 0, stop: size - 1, end: size}, nil
	}
	return parseContentRange(header)
}

func (ih *ImportExportHandler) appendChunk(chunkFile, chunkDir string, data io.Reader, cr chunkRange, existing int64) error {
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}
	var out *os.File
	var err error
	if cr.start == 0 {
		out, err = os.OpenFile(chunkFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	} else {
		if existing != cr.start {
			return fmt.Errorf("chunk starts at %d but %d bytes are on disk", cr.start, existing)
		}
		out, err = os.OpenFile(chunkFile, os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if err != nil {
		return fmt.Errorf("open chunk file: %w", err)
	}
	if _, err := io.Copy(out, data); err != nil {
		out.Close()
		return fmt.Errorf("write chunk: %w", err)
	}
	return out.Close()
}

// failUpload is the FileUploadCorrupted path: stage −1, chunk directory
// removed, 409 returned.
func (ih *ImportExportHandler) failUpload(c *gin.Context, user string, courseKey keys.CourseKey, filename, chunkDir string, err error) {
	ih.publish(c, user, courseKey, filename, -status.StageExtracting)
	os.RemoveAll(chunkDir)
	c.JSON(http.StatusConflict, gin.H{
		"ImportStatus": -status.StageExtracting,
		"ErrMsg":       err.Error(),
	})
}

// runPipeline executes extract, validate and import for a fully assembled
// archive. The chunk directory is removed on every exit path.
func (ih *ImportExportHandler) runPipeline(c *gin.Context, user string, courseKey keys.CourseKey, filename, chunkDir, chunkFile string) {
	defer os.RemoveAll(chunkDir)

	ih.publish(c, user, courseKey, filename, status.StageExtracting)
	extractDir := filepath.Join(chunkDir, "course")
	if err := ih.extractor.Extract(chunkFile, extractDir); err != nil {
		ih.publish(c, user, courseKey, filename, -status.StageExtracting)
		var unsafeErr *archive.UnsafeArchiveError
		if errors.As(err, &unsafeErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"ImportStatus": -status.StageExtracting,
				"ErrMsg":       unsafeErr.Error(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"ImportStatus": -status.StageExtracting,
			"ErrMsg":       err.Error(),
		})
		return
	}

	ih.publish(c, user, courseKey, filename, status.StageValidating)
	rootDir, isLibrary, err := olx.FindRoot(extractDir)
	if err != nil {
		ih.publish(c, user, courseKey, filename, -status.StageValidating)
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"ImportStatus": -status.StageValidating,
			"ErrMsg":       "archive contains no course.xml or library.xml",
		})
		return
	}

	ih.publish(c, user, courseKey, filename, status.StageImporting)
	rd := ctxutil.GetRequestData(c.Request.Context())
	_, err = ih.importer.Import(dbctx.New(c.Request.Context()), rootDir, isLibrary, rd.UserID, importer.Options{
		Dest:           &courseKey,
		CreateIfAbsent: true,
	})
	if err != nil {
		ih.publish(c, user, courseKey, filename, -status.StageImporting)
		c.JSON(http.StatusBadRequest, gin.H{
			"ImportStatus": -status.StageImporting,
			"ErrMsg":       err.Error(),
		})
		return
	}

	ih.publish(c, user, courseKey, filename, status.StageSuccess)
	observability.Current().IncImportCompleted()
	c.JSON(http.StatusOK, gin.H{"ImportStatus": status.StageSuccess})
}

func (ih *ImportExportHandler) publish(c *gin.Context, user string, courseKey keys.CourseKey, filename string, stage int) {
	if err := ih.cache.Set(c.Request.Context(), user, courseKey.String(), filename, stage); err != nil {
		ih.log.Warn("Import status publish failed", "stage", stage, "error", err)
	}
	observability.Current().ObserveImportStage(stage)
}

func (ih *ImportExportHandler) currentStage(c *gin.Context, user string, courseKey keys.CourseKey, filename string) int {
	stage, err := ih.cache.Get(c.Request.Context(), user, courseKey.String(), filename)
	if err != nil {
		return status.StageIdle
	}
	return stage
}

// ImportStatus reports the last published stage for one upload.
func (ih *ImportExportHandler) ImportStatus(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	courseKey, err := keys.ParseCourseKey(c.Param("course_key"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_key", err)
		return
	}
	filename := filepath.Base(c.Param("filename"))
	stage := ih.currentStage(c, rd.UserID.String(), courseKey, filename)
	c.JSON(http.StatusOK, gin.H{"ImportStatus": stage})
}

// Export serializes the course and streams it back as a tar.gz attachment.
func (ih *ImportExportHandler) Export(c *gin.Context) {
	courseKey, err := keys.ParseCourseKey(c.Param("course_key"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_key", err)
		return
	}

	accept := c.GetHeader("Accept")
	if q := c.Query("accept"); q != "" {
		accept = q
	}
	if !strings.Contains(accept, tgzContentType) {
		response.RespondError(c, http.StatusNotAcceptable, "unsupported_accept",
			fmt.Errorf("export requires Accept: %s", tgzContentType))
		return
	}

	workDir, err := os.MkdirTemp("", "course-export-")
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "export_failed", err)
		return
	}
	defer os.RemoveAll(workDir)

	path, err := ih.exporter.ExportTarGz(dbctx.New(c.Request.Context()), courseKey, workDir)
	if err != nil {
		observability.Current().ObserveExport(true)
		var serr *exporter.SerializationError
		if errors.As(err, &serr) {
			body := gin.H{
				"context_course": courseKey.String(),
				"failed_module":  serr.Location.String(),
				"raw_error_msg":  serr.Error(),
			}
			if serr.Unit != nil {
				body["unit"] = serr.Unit.String()
			}
			c.JSON(http.StatusInternalServerError, body)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "export_failed", err)
		return
	}

	observability.Current().ObserveExport(false)
	c.Header("Content-Type", tgzContentType)
	c.FileAttachment(path, filepath.Base(path))
}
