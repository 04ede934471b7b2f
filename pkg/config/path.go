package config

import (
	"strings"

	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
)

// Location is a parsed scheme://bucket/glob source path.
type Location struct {
	Scheme string
	Bucket string
	// Glob is matched against object names; empty matches everything
	Glob string
	// Absolute is set for file:/// paths
	Absolute bool
}

// ParsePath splits a source URI into its scheme, bucket and glob. The bucket
// is the first path segment and the remainder is the glob.
func ParsePath(uri string) (Location, error) {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return Location{}, invalid("path", "path %q must look like scheme://bucket/glob", uri)
	}
	loc := Location{Scheme: strings.ToLower(uri[:idx])}
	rest := uri[idx+3:]
	if strings.HasPrefix(rest, "/") {
		loc.Absolute = true
		rest = strings.TrimLeft(rest, "/")
	}

	bucket, glob, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, errors.Newf(errors.ErrorTypeInvalidConfig, "path %q has no bucket", uri).
			WithDetail("field", "path")
	}
	if strings.ContainsAny(bucket, "*?[") {
		return Location{}, invalid("path", "bucket %q cannot contain wildcards", bucket)
	}
	loc.Bucket = bucket
	loc.Glob = glob
	return loc, nil
}

// StorageKind maps the URI scheme to a storage backend. An s3:// path with a
// custom endpoint is served by the MinIO client.
func (l Location) StorageKind(auth StorageAuth) string {
	switch l.Scheme {
	case "gs", "gcs":
		return StorageGCS
	case "s3", "s3a":
		if auth.Endpoint != "" {
			return StorageMinio
		}
		return StorageS3
	case "minio":
		return StorageMinio
	case "file", "local":
		return StorageLocal
	default:
		return l.Scheme
	}
}

// String renders the location back into URI form.
func (l Location) String() string {
	sep := "://"
	if l.Absolute {
		sep = ":///"
	}
	if l.Glob == "" {
		return l.Scheme + sep + l.Bucket + "/"
	}
	return l.Scheme + sep + l.Bucket + "/" + l.Glob
}
