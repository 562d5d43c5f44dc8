package app

import (
	"context"
	"fmt"

	"github.com/yungbote/courseport-backend/internal/blob"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

// resolveBlobStore picks the asset backend from config. GCS is opt-in;
// everything else lands on the local filesystem store.
func resolveBlobStore(ctx context.Context, log *logger.Logger, cfg Config) (blob.Store, error) {
	switch cfg.StorageBackend {
	case "gcp", "gcs":
		store, err := blob.NewGCSStore(ctx, log)
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		store, err := blob.NewLocalStore(log, cfg.BlobRoot)
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	}
}
