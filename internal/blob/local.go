package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

// LocalStore keeps blobs as plain files under a root directory. Used for
// development and tests; production deployments run the GCS store.
type LocalStore struct {
	root string
	log  *logger.Logger
}

func NewLocalStore(log *logger.Logger, root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalStore{root: abs, log: log.With("service", "LocalBlobStore")}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(clean, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key %q escapes store root", key)
	}
	return clean, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	p, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return 0, fmt.Errorf("create blob temp: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write blob %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("promote blob %q: %w", key, err)
	}
	return n, nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %q: %w", key, err)
	}
	return f, nil
}

type sectionReadCloser struct {
	io.Reader
	closer io.Closer
}

func (s sectionReadCloser) Close() error { return s.closer.Close() }

func (s *LocalStore) OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %q: %w", key, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek blob %q: %w", key, err)
	}
	if length < 0 {
		return f, nil
	}
	return sectionReadCloser{Reader: io.LimitReader(f, length), closer: f}, nil
}

func (s *LocalStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	src, err := s.Open(ctx, srcKey)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = s.Put(ctx, dstKey, src)
	return err
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete blob %q: %w", key, err)
	}
	return nil
}
