// Package storage lists, downloads and deletes source objects across cloud
// object stores.
//
// Every backend implements Store. The Enumerator turns a
// scheme://bucket/glob pattern into the list of objects to ingest.
package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ajitpratap0/storage-mixpanel/pkg/compression"
	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
)

// ErrObjectNotFound is returned by Download and Delete for missing objects.
var ErrObjectNotFound = stderrors.New("object not found")

// Object describes one remote object.
type Object struct {
	Bucket  string    `json:"bucket"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Updated time.Time `json:"updated,omitempty"`
	// ETag or generation, when the backend reports one
	Version string `json:"version,omitempty"`
}

// Store is a remote object store.
type Store interface {
	// List returns every object in bucket whose name starts with prefix.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	// Download returns the stored bytes of obj.
	Download(ctx context.Context, obj Object) ([]byte, error)
	// Delete removes obj. Missing objects yield ErrObjectNotFound.
	Delete(ctx context.Context, obj Object) error
	Close() error
}

// Fetch downloads obj and decompresses it according to its name.
func Fetch(ctx context.Context, s Store, obj Object) ([]byte, error) {
	raw, err := s.Download(ctx, obj)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to download object").
			WithDetail("object", obj.Name).
			WithDetail("bucket", obj.Bucket)
	}
	data, err := compression.DecompressObject(obj.Name, raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to decompress object").
			WithDetail("object", obj.Name)
	}
	return data, nil
}

// Open creates the Store for a job's storage kind.
func Open(ctx context.Context, cfg *config.JobConfig) (Store, error) {
	loc, err := config.ParsePath(cfg.Path)
	if err != nil {
		return nil, err
	}
	kind := cfg.Storage
	if kind == "" {
		kind = loc.StorageKind(cfg.Auth)
	}

	var store Store
	switch kind {
	case config.StorageGCS:
		store, err = NewGCS(ctx, cfg.Auth)
	case config.StorageS3:
		store, err = NewS3(ctx, cfg.Auth)
	case config.StorageMinio:
		store, err = NewMinio(cfg.Auth)
	case config.StorageLocal:
		root := cfg.Auth.Root
		if root == "" {
			root = "."
			if loc.Absolute {
				root = "/"
			}
		}
		store = NewLocal(root)
	default:
		return nil, errors.Newf(errors.ErrorTypeStorage, "unsupported storage kind %q", kind).
			WithDetail("storage", kind)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to create storage client").
			WithDetail("storage", kind)
	}
	return store, nil
}
