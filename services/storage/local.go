// Package storagesvc keeps the uploaded files on the local disk or on S3.
package storagesvc

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/filemanager"
)

type LocalStorage struct {
	root string
}

var _ filemanager.Storage = (*LocalStorage)(nil)

func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", root)
	}
	return &LocalStorage{root: root}, nil
}

func (s *LocalStorage) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+key)))
}

func (s *LocalStorage) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrap(err, "creating directory")
	}
	f, err := os.Create(p)
	if err != nil {
		return errors.Wrap(err, "creating file")
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return errors.Wrap(err, "writing file")
	}
	return errors.Wrap(f.Close(), "closing file")
}

func (s *LocalStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, core.ErrNotFound
	}
	return f, errors.Wrap(err, "opening file")
}

func (s *LocalStorage) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing file")
	}
	return nil
}

// URL is always empty: local files are streamed by the API.
func (s *LocalStorage) URL(context.Context, string) (string, error) { return "", nil }

// New returns the storage selected by the configuration.
func New(ctx context.Context, conf *core.Config) (filemanager.Storage, error) {
	switch conf.Storage.Driver {
	case "s3":
		return NewS3Storage(ctx, conf)
	case "local", "":
		root := conf.Storage.LocalRoot
		if !filepath.IsAbs(root) {
			root = filepath.Join(conf.WorkDir, root)
		}
		return NewLocalStorage(root)
	}
	return nil, errors.Errorf("unsupported storage driver %q", conf.Storage.Driver)
}
