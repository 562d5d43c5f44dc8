package importer

import (
	"bytes"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/courseport-backend/internal/keys"
	"github.com/yungbote/courseport-backend/internal/olx"
	"github.com/yungbote/courseport-backend/internal/platform/dbctx"
	"github.com/yungbote/courseport-backend/internal/store/contentstore"
)

const defaultStaticWorkers = 4

// skipStaticFile filters out OS droppings: Finder metadata, AppleDouble
// companion files, and editor backup files.
func skipStaticFile(name string) bool {
	return name == ".DS_Store" || strings.HasPrefix(name, "._") || strings.HasSuffix(name, "~")
}

// importStatic ingests every file under static/ as an asset of the
// destination course, honoring the per-asset policy overlay and the optional
// roots/assets.xml manifest.
func (imp *Importer) importStatic(dbc dbctx.Context, rootDir string, dest keys.CourseKey, userID uuid.UUID, workers int) error {
	staticDir := filepath.Join(rootDir, "static")
	if _, err := os.Stat(staticDir); err != nil {
		return nil
	}

	policies, err := olx.ReadAssetPolicies(rootDir)
	if err != nil {
		return err
	}
	manifest, err := olx.ReadAssetManifest(rootDir)
	if err != nil {
		return err
	}
	locked := map[string]bool{}
	for name, pol := range policies {
		if pol.Locked {
			locked[name] = true
		}
	}
	for _, rec := range manifest {
		if rec.Locked {
			locked[rec.Basename] = true
		}
	}

	var paths []string
	err = filepath.WalkDir(staticDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if skipStaticFile(d.Name()) {
			imp.log.Debug("skipping static file", "path", p)
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return err
	}

	if workers <= 0 {
		workers = defaultStaticWorkers
	}
	// Workers run outside any enclosing transaction so the pooled connection
	// handles the concurrency.
	assetCtx := dbctx.New(dbc.Ctx)

	g, _ := errgroup.WithContext(dbc.Ctx)
	g.SetLimit(workers)
	for _, p := range paths {
		g.Go(func() error {
			rel, err := filepath.Rel(staticDir, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if err := imp.importStaticFile(assetCtx, p, rel, dest, locked[rel], policies[rel], userID); err != nil {
				return fmt.Errorf("import static %s: %w", rel, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (imp *Importer) importStaticFile(dbc dbctx.Context, fullPath, rel string, dest keys.CourseKey, isLocked bool, pol olx.AssetPolicy, userID uuid.UUID) error {
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return err
	}

	contentType := pol.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(rel))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	asset := &contentstore.Asset{
		Key:         keys.NewAssetKey(dest, "asset", rel),
		ContentType: contentType,
		Locked:      isLocked,
		ImportPath:  rel,
	}
	if err := imp.assets.Save(dbc, asset, bytes.NewReader(data), userID); err != nil {
		return err
	}

	if _, thumbKey := imp.assets.GenerateThumbnail(dbc, asset, data, userID); thumbKey != nil {
		if err := imp.assets.SetAttr(dbc, asset.Key, "thumbnail_location", thumbKey.C4xPath()); err != nil {
			return err
		}
	}
	return nil
}
