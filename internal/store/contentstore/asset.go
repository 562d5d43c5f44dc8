package contentstore

import (
	"fmt"
	"io"
	"time"

	"github.com/yungbote/courseport-backend/internal/keys"
)

// Asset is one stored binary plus its metadata record. Data is populated by
// eager loads, Stream by streaming loads; never both.
type Asset struct {
	Key         keys.AssetKey
	ContentType string
	Length      int64
	UploadedAt  time.Time
	Digest      string
	Locked      bool

	ThumbnailLocation *keys.AssetKey
	ImportPath        string

	CurrVersion string
	PrevVersion string

	Data   []byte
	Stream io.ReadCloser
}

type NotFoundError struct {
	Key keys.AssetKey
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("asset not found: %s", e.Key)
}

type RangeUnsatisfiableError struct {
	First  int64
	Last   int64
	Length int64
}

func (e *RangeUnsatisfiableError) Error() string {
	return fmt.Sprintf("unsatisfiable range [%d, %d] for length %d", e.First, e.Last, e.Length)
}

type AttributeUnsettableError struct {
	Name string
}

func (e *AttributeUnsettableError) Error() string {
	return fmt.Sprintf("attribute %q cannot be set", e.Name)
}
