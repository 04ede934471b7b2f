package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore serves a directory tree. Buckets are top-level directories
// under root and object names are slash-separated relative paths.
type LocalStore struct {
	root string
}

// NewLocal creates a store rooted at root.
func NewLocal(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (l *LocalStore) path(bucket, name string) string {
	return filepath.Join(l.root, bucket, filepath.FromSlash(name))
}

// List implements Store.
func (l *LocalStore) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	base := filepath.Join(l.root, bucket)
	var out []Object
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{
			Bucket:  bucket,
			Name:    name,
			Size:    info.Size(),
			Updated: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Download implements Store.
func (l *LocalStore) Download(_ context.Context, obj Object) ([]byte, error) {
	data, err := os.ReadFile(l.path(obj.Bucket, obj.Name))
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", obj.Name, ErrObjectNotFound)
	}
	return data, err
}

// Delete implements Store.
func (l *LocalStore) Delete(_ context.Context, obj Object) error {
	err := os.Remove(l.path(obj.Bucket, obj.Name))
	if stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", obj.Name, ErrObjectNotFound)
	}
	return err
}

// Close implements Store.
func (l *LocalStore) Close() error {
	return nil
}
