package contentstore

import (
	"bytes"
	"image"
	"image/png"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
)

const thumbnailMaxEdge = 128

// GenerateThumbnail renders a small PNG sideband for image assets and stores
// it under the thumbnail asset type. Failure is non-fatal: callers get nils
// and the original asset is untouched.
func (s *Store) GenerateThumbnail(dbc dbctx.Context, asset *Asset, data []byte, userID uuid.UUID) (*Asset, *keys.AssetKey) {
	if !strings.HasPrefix(asset.ContentType, "image/") {
		return nil, nil
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		s.log.Warn("thumbnail decode failed", "asset", asset.Key.String(), "error", err)
		return nil, nil
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}
	scale := float64(thumbnailMaxEdge) / float64(max(w, h))
	if scale > 1 {
		scale = 1
	}
	tw, th := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		s.log.Warn("thumbnail encode failed", "asset", asset.Key.String(), "error", err)
		return nil, nil
	}

	thumbKey := keys.NewAssetKey(asset.Key.CourseKey, "thumbnail", asset.Key.Name+".png")
	thumb := &Asset{Key: thumbKey, ContentType: "image/png"}
	if err := s.Save(dbc, thumb, bytes.NewReader(buf.Bytes()), userID); err != nil {
		s.log.Warn("thumbnail save failed", "asset", asset.Key.String(), "error", err)
		return nil, nil
	}
	return thumb, &thumbKey
}
