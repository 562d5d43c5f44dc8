package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/observability"
	"github.com/yungbote/courseport-backend/internal/platform/ctxutil"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
	"github.com/yungbote/courseport-backend/internal/store/contentstore"
)

// assetURLVersion is the current versioned-URL schema generation.
const assetURLVersion = 1

// DeliveryConfig is the asset-serving policy: per-course cache TTLs and the
// user-agent lines that mark CDN origin fetches.
type DeliveryConfig struct {
	// CacheTTL applies to every course without an explicit override; zero
	// means no TTL is configured.
	CacheTTL  time.Duration
	CourseTTL map[string]time.Duration

	CDNUserAgents []string
}

func (cfg DeliveryConfig) TTLFor(courseKey keys.CourseKey) (time.Duration, bool) {
	if ttl, ok := cfg.CourseTTL[courseKey.String()]; ok {
		return ttl, ttl > 0
	}
	return cfg.CacheTTL, cfg.CacheTTL > 0
}

func (cfg DeliveryConfig) IsCDN(userAgent string) bool {
	for _, line := range cfg.CDNUserAgents {
		line = strings.TrimSpace(line)
		if line != "" && strings.Contains(userAgent, line) {
			return true
		}
	}
	return false
}

type AssetHandler struct {
	log         *logger.Logger
	assets      *contentstore.Store
	courses     repos.CourseRunRepo
	enrollments repos.EnrollmentRepo
	cfg         DeliveryConfig
}

func NewAssetHandler(log *logger.Logger, assets *contentstore.Store, courses repos.CourseRunRepo, enrollments repos.EnrollmentRepo, cfg DeliveryConfig) *AssetHandler {
	return &AssetHandler{
		log:         log.With("handler", "AssetHandler"),
		assets:      assets,
		courses:     courses,
		enrollments: enrollments,
		cfg:         cfg,
	}
}

// ServeC4x handles the legacy URL dialect /c4x/{org}/{course}/{type}/{name}.
func (ah *AssetHandler) ServeC4x(c *gin.Context) {
	key, err := keys.ParseC4xPath(c.Request.URL.Path)
	if err != nil {
		ah.finish(c, http.StatusNotFound, 0)
		return
	}
	key, ok := ah.resolveRun(c, key)
	if !ok {
		return
	}
	ah.serve(c, key, "")
}

// ServeVersioned handles /assets/courseware/v{n}/{digest}/c4x/..., redirecting
// stale digests to the current versioned URL.
func (ah *AssetHandler) ServeVersioned(c *gin.Context) {
	key, _, digest, err := keys.ParseVersionedPath(c.Request.URL.Path)
	if err != nil {
		ah.finish(c, http.StatusNotFound, 0)
		return
	}
	key, ok := ah.resolveRun(c, key)
	if !ok {
		return
	}
	ah.serve(c, key, digest)
}

// resolveRun fills in the run component, which neither URL dialect encodes.
func (ah *AssetHandler) resolveRun(c *gin.Context, key keys.AssetKey) (keys.AssetKey, bool) {
	run, err := ah.courses.GetByOrgCourse(dbctx.New(c.Request.Context()), key.CourseKey.Org, key.CourseKey.Course)
	if err != nil {
		ah.log.Error("Course lookup failed", "org", key.CourseKey.Org, "course", key.CourseKey.Course, "error", err)
		ah.finish(c, http.StatusInternalServerError, 0)
		return key, false
	}
	if run == nil {
		ah.finish(c, http.StatusNotFound, 0)
		return key, false
	}
	key.CourseKey.Run = run.Run
	return key, true
}

func (ah *AssetHandler) serve(c *gin.Context, key keys.AssetKey, requestedDigest string) {
	dbc := dbctx.New(c.Request.Context())

	meta, err := ah.assets.FindMetadata(dbc, key)
	if err != nil {
		var nf *contentstore.NotFoundError
		if errors.As(err, &nf) {
			ah.finish(c, http.StatusNotFound, 0)
			return
		}
		ah.log.Error("Asset lookup failed", "key", key.String(), "error", err)
		ah.finish(c, http.StatusInternalServerError, 0)
		return
	}

	if requestedDigest != "" && requestedDigest != meta.Digest {
		c.Redirect(http.StatusMovedPermanently, meta.Key.VersionedPath(assetURLVersion, meta.Digest))
		ah.observe(c, http.StatusMovedPermanently, 0)
		return
	}

	if meta.Locked && !ah.allowed(c, key.CourseKey) {
		ah.finish(c, http.StatusForbidden, 0)
		return
	}

	ah.setCacheHeaders(c, key.CourseKey, meta.Locked)

	first, last, mode := parseRangeHeader(c.GetHeader("Range"), meta.Length)
	switch mode {
	case rangeUnsatisfiable:
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", meta.Length))
		ah.finish(c, http.StatusRequestedRangeNotSatisfiable, 0)
		return
	case rangeValid:
		asset, err := ah.assets.FindWithRange(dbc, key, first, last)
		if err != nil {
			var ru *contentstore.RangeUnsatisfiableError
			if errors.As(err, &ru) {
				c.Header("Content-Range", fmt.Sprintf("bytes */%d", meta.Length))
				ah.finish(c, http.StatusRequestedRangeNotSatisfiable, 0)
				return
			}
			ah.log.Error("Asset range read failed", "key", key.String(), "error", err)
			ah.finish(c, http.StatusInternalServerError, 0)
			return
		}
		defer asset.Stream.Close()
		if last >= meta.Length {
			last = meta.Length - 1
		}
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", first, last, meta.Length))
		c.DataFromReader(http.StatusPartialContent, asset.Length, meta.ContentType, asset.Stream, nil)
		ah.observe(c, http.StatusPartialContent, asset.Length)
		return
	}

	asset, err := ah.assets.Find(dbc, key, true)
	if err != nil {
		ah.log.Error("Asset read failed", "key", key.String(), "error", err)
		ah.finish(c, http.StatusInternalServerError, 0)
		return
	}
	defer asset.Stream.Close()
	c.DataFromReader(http.StatusOK, asset.Length, meta.ContentType, asset.Stream, nil)
	ah.observe(c, http.StatusOK, asset.Length)
}

// allowed implements the locked-asset policy: staff always, enrolled users
// otherwise, nobody anonymous.
func (ah *AssetHandler) allowed(c *gin.Context, courseKey keys.CourseKey) bool {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil {
		return false
	}
	if rd.IsStaff {
		return true
	}
	enrolled, err := ah.enrollments.IsEnrolled(dbctx.New(c.Request.Context()), rd.UserID, courseKey.String())
	if err != nil {
		ah.log.Error("Enrollment check failed", "course", courseKey.String(), "error", err)
		return false
	}
	return enrolled
}

func (ah *AssetHandler) setCacheHeaders(c *gin.Context, courseKey keys.CourseKey, locked bool) {
	c.Header("Vary", "Origin")
	ttl, configured := ah.cfg.TTLFor(courseKey)
	switch {
	case locked:
		c.Header("Cache-Control", "private, no-cache, no-store")
	case configured:
		seconds := int(ttl.Seconds())
		c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d, s-maxage=%d", seconds, seconds))
		c.Header("Expires", time.Now().UTC().Add(ttl).Format(http.TimeFormat))
	}
}

func (ah *AssetHandler) finish(c *gin.Context, status int, bytesSent int64) {
	c.Status(status)
	ah.observe(c, status, bytesSent)
}

func (ah *AssetHandler) observe(c *gin.Context, status int, bytesSent int64) {
	kind := "browser"
	if ah.cfg.IsCDN(c.GetHeader("User-Agent")) {
		kind = "cdn"
	}
	observability.Current().ObserveAssetRequest(kind, strconv.Itoa(status), bytesSent)
}

type rangeMode int

const (
	rangeNone rangeMode = iota
	rangeValid
	rangeUnsatisfiable
)

// parseRangeHeader implements the single-range subset of RFC 7233. Anything
// syntactically malformed, and any multi-range request, falls back to a full
// response.
func parseRangeHeader(header string, length int64) (int64, int64, rangeMode) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, 0, rangeNone
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, rangeNone
	}
	if strings.Contains(spec, ",") {
		return 0, 0, rangeNone
	}
	spec = strings.TrimSpace(spec)
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, rangeNone
	}
	startPart := strings.TrimSpace(spec[:dash])
	endPart := strings.TrimSpace(spec[dash+1:])

	if startPart == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(endPart, 10, 64)
		if err != nil {
			return 0, 0, rangeNone
		}
		if n <= 0 {
			return 0, 0, rangeUnsatisfiable
		}
		first := length - n
		if first < 0 {
			first = 0
		}
		return first, length - 1, rangeValid
	}

	first, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil {
		return 0, 0, rangeNone
	}
	last := length - 1
	if endPart != "" {
		last, err = strconv.ParseInt(endPart, 10, 64)
		if err != nil {
			return 0, 0, rangeNone
		}
	}
	if first > last || first >= length {
		return 0, 0, rangeUnsatisfiable
	}
	if last >= length {
		last = length - 1
	}
	return first, last, rangeValid
}
