package contentstore

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/courseport-backend/internal/blob"
	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

// protectedAttrs cannot be rewritten through SetAttr; neither can any name
// with a leading underscore.
var protectedAttrs = map[string]bool{
	"md5":      true,
	"asset_id": true,
}

// Store is the durable asset store: metadata rows in the database, bytes in
// the blob store.
type Store struct {
	db     *gorm.DB
	log    *logger.Logger
	assets repos.AssetRepo
	blobs  blob.Store
}

func New(db *gorm.DB, baseLog *logger.Logger, assets repos.AssetRepo, blobs blob.Store) *Store {
	return &Store{
		db:     db,
		log:    baseLog.With("service", "ContentStore"),
		assets: assets,
		blobs:  blobs,
	}
}

func storageKey(key keys.AssetKey, namespace string) string {
	return fmt.Sprintf("assets/%s/%s/%s/%s/%s/%s",
		namespace, key.CourseKey.Org, key.CourseKey.Course, key.CourseKey.Run,
		key.AssetType, key.Name)
}

// Save writes the blob and its metadata record. The content digest is always
// recomputed from the bytes actually stored.
func (s *Store) Save(dbc dbctx.Context, asset *Asset, data io.Reader, userID uuid.UUID) error {
	skey := storageKey(asset.Key, domain.AssetNamespaceLive)
	hash := md5.New()
	n, err := s.blobs.Put(dbc.Ctx, skey, io.TeeReader(data, hash))
	if err != nil {
		return fmt.Errorf("store asset bytes %s: %w", asset.Key, err)
	}
	asset.Length = n
	asset.Digest = hex.EncodeToString(hash.Sum(nil))
	if asset.UploadedAt.IsZero() {
		asset.UploadedAt = time.Now().UTC()
	}

	row, err := s.assets.Get(dbc, asset.Key.CourseKey.String(), asset.Key.AssetType, asset.Key.Name, domain.AssetNamespaceLive)
	if err != nil {
		return err
	}
	if row == nil {
		row = &domain.ContentAsset{
			CourseKey: asset.Key.CourseKey.String(),
			AssetType: asset.Key.AssetType,
			Name:      asset.Key.Name,
			Namespace: domain.AssetNamespaceLive,
		}
	} else {
		row.PrevVersion = row.Digest
	}
	row.ContentType = asset.ContentType
	row.Length = n
	row.Digest = asset.Digest
	row.CurrVersion = asset.Digest
	row.Locked = asset.Locked
	row.StorageKey = skey
	row.UploadedAt = asset.UploadedAt
	row.EditedBy = userID
	if asset.ImportPath != "" {
		row.ImportPath = &asset.ImportPath
	}
	if asset.ThumbnailLocation != nil {
		p := asset.ThumbnailLocation.C4xPath()
		row.ThumbnailPath = &p
	}
	if row.ID == uuid.Nil {
		return s.assets.Create(dbc, row)
	}
	return s.assets.Save(dbc, row)
}

// Find loads the asset record; with asStream the bytes arrive as a chunked
// reader the caller must close, otherwise they are eagerly buffered.
func (s *Store) Find(dbc dbctx.Context, key keys.AssetKey, asStream bool) (*Asset, error) {
	row, err := s.row(dbc, key)
	if err != nil {
		return nil, err
	}
	asset := fromRow(row)
	r, err := s.blobs.Open(dbc.Ctx, row.StorageKey)
	if err != nil {
		if err == blob.ErrNotFound {
			return nil, &NotFoundError{Key: key}
		}
		return nil, err
	}
	if asStream {
		asset.Stream = r
		return asset, nil
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("read asset %s: %w", key, err)
	}
	asset.Data = buf.Bytes()
	return asset, nil
}

// FindMetadata loads only the record, never touching the blob.
func (s *Store) FindMetadata(dbc dbctx.Context, key keys.AssetKey) (*Asset, error) {
	row, err := s.row(dbc, key)
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

// FindWithRange streams the inclusive byte range [first, last].
func (s *Store) FindWithRange(dbc dbctx.Context, key keys.AssetKey, first, last int64) (*Asset, error) {
	row, err := s.row(dbc, key)
	if err != nil {
		return nil, err
	}
	if first > last || first >= row.Length {
		return nil, &RangeUnsatisfiableError{First: first, Last: last, Length: row.Length}
	}
	if last >= row.Length {
		last = row.Length - 1
	}
	asset := fromRow(row)
	r, err := s.blobs.OpenRange(dbc.Ctx, row.StorageKey, first, last-first+1)
	if err != nil {
		if err == blob.ErrNotFound {
			return nil, &NotFoundError{Key: key}
		}
		return nil, err
	}
	asset.Stream = r
	asset.Length = last - first + 1
	return asset, nil
}

// GetAttr reads one metadata attribute by name.
func (s *Store) GetAttr(dbc dbctx.Context, key keys.AssetKey, name string) (any, error) {
	row, err := s.row(dbc, key)
	if err != nil {
		return nil, err
	}
	switch name {
	case "locked":
		return row.Locked, nil
	case "content_type", "contentType":
		return row.ContentType, nil
	case "length":
		return row.Length, nil
	case "md5", "content_digest":
		return row.Digest, nil
	case "uploaded_at", "uploadDate":
		return row.UploadedAt, nil
	case "import_path":
		if row.ImportPath == nil {
			return "", nil
		}
		return *row.ImportPath, nil
	case "thumbnail_location":
		if row.ThumbnailPath == nil {
			return "", nil
		}
		return *row.ThumbnailPath, nil
	case "curr_version":
		return row.CurrVersion, nil
	case "prev_version":
		return row.PrevVersion, nil
	default:
		return nil, fmt.Errorf("unknown asset attribute %q", name)
	}
}

// SetAttr writes one mutable metadata attribute. Digest-bearing and
// underscore-prefixed attributes are refused.
func (s *Store) SetAttr(dbc dbctx.Context, key keys.AssetKey, name string, value any) error {
	if strings.HasPrefix(name, "_") || protectedAttrs[name] {
		return &AttributeUnsettableError{Name: name}
	}
	row, err := s.row(dbc, key)
	if err != nil {
		return err
	}
	switch name {
	case "locked":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("attribute %q wants bool", name)
		}
		row.Locked = b
	case "content_type", "contentType":
		ct, ok := value.(string)
		if !ok {
			return fmt.Errorf("attribute %q wants string", name)
		}
		row.ContentType = ct
	case "import_path":
		p, ok := value.(string)
		if !ok {
			return fmt.Errorf("attribute %q wants string", name)
		}
		row.ImportPath = &p
	case "thumbnail_location":
		p, ok := value.(string)
		if !ok {
			return fmt.Errorf("attribute %q wants string", name)
		}
		row.ThumbnailPath = &p
	default:
		return fmt.Errorf("unknown asset attribute %q", name)
	}
	return s.assets.Save(dbc, row)
}

// GetAllForCourse pages through the live assets of one course.
func (s *Store) GetAllForCourse(dbc dbctx.Context, courseKey keys.CourseKey, page repos.AssetPage) ([]*Asset, int64, error) {
	rows, total, err := s.assets.ListForCourse(dbc, courseKey.String(), domain.AssetNamespaceLive, page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Asset, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, total, nil
}

// Delete removes the record and the bytes.
func (s *Store) Delete(dbc dbctx.Context, key keys.AssetKey) error {
	row, err := s.row(dbc, key)
	if err != nil {
		return err
	}
	if err := s.assets.Delete(dbc, key.CourseKey.String(), key.AssetType, key.Name, domain.AssetNamespaceLive); err != nil {
		return err
	}
	if err := s.blobs.Delete(dbc.Ctx, row.StorageKey); err != nil && err != blob.ErrNotFound {
		return err
	}
	return nil
}

// SoftDelete moves the asset, and its thumbnail when present, into the trash
// namespace and removes the live record, all under one scope so concurrent
// readers see either the live asset or the trash record.
func (s *Store) SoftDelete(dbc dbctx.Context, key keys.AssetKey, userID uuid.UUID) error {
	run := func(dbc dbctx.Context) error {
		row, err := s.row(dbc, key)
		if err != nil {
			return err
		}
		if err := s.moveToTrash(dbc, row, userID); err != nil {
			return err
		}
		if row.ThumbnailPath != nil {
			thumbKey, err := keys.ParseC4xPath(*row.ThumbnailPath)
			if err == nil {
				thumbKey.CourseKey = key.CourseKey
				thumbRow, err := s.assets.Get(dbc, key.CourseKey.String(), thumbKey.AssetType, thumbKey.Name, domain.AssetNamespaceLive)
				if err != nil {
					return err
				}
				if thumbRow != nil {
					if err := s.moveToTrash(dbc, thumbRow, userID); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	if dbc.Tx != nil {
		return run(dbc)
	}
	return s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return run(dbc.WithTx(tx))
	})
}

func (s *Store) moveToTrash(dbc dbctx.Context, row *domain.ContentAsset, userID uuid.UUID) error {
	key := keys.AssetKey{
		CourseKey: mustCourseKey(row.CourseKey),
		AssetType: row.AssetType,
		Name:      row.Name,
	}
	trashKey := storageKey(key, domain.AssetNamespaceTrash)
	if err := s.blobs.Copy(dbc.Ctx, row.StorageKey, trashKey); err != nil && err != blob.ErrNotFound {
		return fmt.Errorf("copy asset to trash %s: %w", key, err)
	}

	// Replace any previous trash record for the same identity.
	if err := s.assets.Delete(dbc, row.CourseKey, row.AssetType, row.Name, domain.AssetNamespaceTrash); err != nil {
		return err
	}
	trashRow := *row
	trashRow.ID = uuid.Nil
	trashRow.Namespace = domain.AssetNamespaceTrash
	trashRow.StorageKey = trashKey
	trashRow.EditedBy = userID
	if err := s.assets.Create(dbc, &trashRow); err != nil {
		return err
	}

	if err := s.assets.Delete(dbc, row.CourseKey, row.AssetType, row.Name, domain.AssetNamespaceLive); err != nil {
		return err
	}
	if err := s.blobs.Delete(dbc.Ctx, row.StorageKey); err != nil && err != blob.ErrNotFound {
		return err
	}
	return nil
}

// FindInTrash loads a soft-deleted record.
func (s *Store) FindInTrash(dbc dbctx.Context, key keys.AssetKey) (*Asset, error) {
	row, err := s.assets.Get(dbc, key.CourseKey.String(), key.AssetType, key.Name, domain.AssetNamespaceTrash)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, &NotFoundError{Key: key}
	}
	return fromRow(row), nil
}

func (s *Store) row(dbc dbctx.Context, key keys.AssetKey) (*domain.ContentAsset, error) {
	row, err := s.assets.Get(dbc, key.CourseKey.String(), key.AssetType, key.Name, domain.AssetNamespaceLive)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, &NotFoundError{Key: key}
	}
	return row, nil
}

func fromRow(row *domain.ContentAsset) *Asset {
	key := keys.AssetKey{
		CourseKey: mustCourseKey(row.CourseKey),
		AssetType: row.AssetType,
		Name:      row.Name,
	}
	asset := &Asset{
		Key:         key,
		ContentType: row.ContentType,
		Length:      row.Length,
		UploadedAt:  row.UploadedAt,
		Digest:      row.Digest,
		Locked:      row.Locked,
		CurrVersion: row.CurrVersion,
		PrevVersion: row.PrevVersion,
	}
	if row.ImportPath != nil {
		asset.ImportPath = *row.ImportPath
	}
	if row.ThumbnailPath != nil {
		if tk, err := keys.ParseC4xPath(*row.ThumbnailPath); err == nil {
			tk.CourseKey = key.CourseKey
			asset.ThumbnailLocation = &tk
		}
	}
	return asset
}

func mustCourseKey(s string) keys.CourseKey {
	ck, err := keys.ParseCourseKey(s)
	if err != nil {
		return keys.CourseKey{}
	}
	return ck
}
