package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/http/response"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/platform/ctxutil"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
	"github.com/yungbote/courseport-backend/internal/store/modulestore"
)

type CourseHandler struct {
	log         *logger.Logger
	store       *modulestore.Store
	enrollments repos.EnrollmentRepo
	importErrs  repos.ImportErrorRepo
}

func NewCourseHandler(log *logger.Logger, store *modulestore.Store, enrollments repos.EnrollmentRepo, importErrs repos.ImportErrorRepo) *CourseHandler {
	return &CourseHandler{
		log:         log.With("handler", "CourseHandler"),
		store:       store,
		enrollments: enrollments,
		importErrs:  importErrs,
	}
}

func (ch *CourseHandler) Enroll(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	courseKey, err := keys.ParseCourseKey(c.Param("course_key"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_key", err)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	present, err := ch.store.HasCourse(dbc, courseKey, false)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "enroll_failed", err)
		return
	}
	if !present {
		response.RespondError(c, http.StatusNotFound, "course_not_found", fmt.Errorf("course %s does not exist", courseKey))
		return
	}
	if err := ch.enrollments.Enroll(dbc, rd.UserID, courseKey.String()); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "enroll_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"enrolled": courseKey.String()})
}

// ImportErrors lists the per-block failures recorded by the last tolerant
// import of the course.
func (ch *CourseHandler) ImportErrors(c *gin.Context) {
	courseKey, err := keys.ParseCourseKey(c.Param("course_key"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_key", err)
		return
	}
	records, err := ch.importErrs.ListByCourse(dbctx.New(c.Request.Context()), courseKey.String())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, gin.H{
			"location":     rec.Location,
			"display_name": rec.DisplayName,
			"message":      rec.Message,
			"created_at":   rec.CreatedAt,
		})
	}
	response.RespondOK(c, gin.H{"errors": out})
}
