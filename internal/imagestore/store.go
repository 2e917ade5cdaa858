// Package imagestore persists product images under a root directory, one
// subdirectory per UPC. All paths handed to the store are relative to the
// root; anything that would escape it is rejected.
package imagestore

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/logger"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	tmpSuffix = ".tmp"
)

// Store reads and writes image files. Safe for concurrent use; callers that
// rewrite and prune a UPC directory serialize that sequence themselves.
type Store struct {
	fs   afero.Fs
	root string
	log  logger.Logger
}

// New wraps fs. root is the directory fs is rooted at on disk and is used
// only to report storage paths; pass "" for in-memory filesystems.
func New(fs afero.Fs, root string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Store{fs: fs, root: root, log: log.Module("imagestore")}
}

// NewOS creates dir if needed and returns a store confined to it.
func NewOS(dir string, log logger.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, storageError(err, "resolve_root", dir)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, storageError(err, "create_root", abs)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), abs), abs, log), nil
}

// Root returns the on-disk root directory.
func (s *Store) Root() string { return s.root }

// Fs exposes the underlying filesystem for read-only serving.
func (s *Store) Fs() afero.Fs { return s.fs }

// clean validates a relative path and returns it in slash form.
func clean(rel string) (string, error) {
	c := path.Clean(filepath.ToSlash(rel))
	if rel == "" || path.IsAbs(c) || c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", errors.Newf("invalid image path %q", rel).
			Component("imagestore").
			Category(errors.CategoryValidation).
			Context("path", rel).
			Build()
	}
	return c, nil
}

// Path returns the storage path of rel: absolute under the root on disk,
// or rel itself for in-memory stores.
func (s *Store) Path(rel string) string {
	if s.root == "" {
		return filepath.FromSlash(rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Write stores data at rel. The file is written to a temporary name and
// renamed so readers never see a partial image.
func (s *Store) Write(rel string, data []byte) error {
	p, err := clean(rel)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(p), dirPerm); err != nil {
		return storageError(err, "mkdir", p)
	}

	// unique temp name per call; concurrent writers of p must not share it
	f, err := afero.TempFile(s.fs, path.Dir(p), path.Base(p)+".*"+tmpSuffix)
	if err != nil {
		return storageError(err, "create_temp", p)
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = s.fs.Chmod(tmp, filePerm)
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return storageError(err, "write", p)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return storageError(err, "rename", p)
	}
	return nil
}

// Read returns the contents of rel.
func (s *Store) Read(rel string) ([]byte, error) {
	p, err := clean(rel)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(p)
		}
		return nil, storageError(err, "read", p)
	}
	return data, nil
}

// Open returns a reader for rel with its size.
func (s *Store) Open(rel string) (io.ReadSeekCloser, int64, error) {
	p, err := clean(rel)
	if err != nil {
		return nil, 0, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, notFound(p)
		}
		return nil, 0, storageError(err, "open", p)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, storageError(err, "stat", p)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, notFound(p)
	}
	return f, info.Size(), nil
}

// Exists reports whether rel is a regular file with content.
func (s *Store) Exists(rel string) bool {
	p, err := clean(rel)
	if err != nil {
		return false
	}
	info, err := s.fs.Stat(p)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// List returns the names of regular files in dir, sorted.
func (s *Store) List(dir string) ([]string, error) {
	p, err := clean(dir)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, storageError(err, "list", p)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() && !strings.HasSuffix(e.Name(), tmpSuffix) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Prune removes every file in dir whose name is not in keep.
func (s *Store) Prune(dir string, keep []string) error {
	names, err := s.List(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if slices.Contains(keep, name) {
			continue
		}
		rel := path.Join(dir, name)
		if err := s.fs.Remove(rel); err != nil && !os.IsNotExist(err) {
			errs = append(errs, storageError(err, "remove", rel))
			continue
		}
		s.log.Debug("removed stale image", logger.String("path", rel))
	}
	return errors.Join(errs...)
}

func notFound(p string) error {
	return errors.Newf("image %s not found", p).
		Component("imagestore").
		Category(errors.CategoryNotFound).
		Context("path", p).
		Build()
}

func storageError(err error, operation, p string) error {
	return errors.New(err).
		Component("imagestore").
		Category(errors.CategoryImageStorage).
		Context("operation", operation).
		Context("path", p).
		Build()
}
