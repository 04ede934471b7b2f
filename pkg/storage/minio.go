package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
)

// MinioStore reads objects from S3-compatible endpoints.
type MinioStore struct {
	client *minio.Client
}

// NewMinio creates a client for auth.Endpoint.
func NewMinio(auth config.StorageAuth) (*MinioStore, error) {
	if auth.Endpoint == "" {
		return nil, fmt.Errorf("minio storage requires an endpoint")
	}
	cl, err := minio.New(auth.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(auth.AccessKeyID, auth.SecretAccessKey, auth.SessionToken),
		Secure: auth.UseSSL,
		Region: auth.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinioStore{client: cl}, nil
}

// List implements Store.
func (m *MinioStore) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var out []Object
	for info := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}
		out = append(out, Object{
			Bucket:  bucket,
			Name:    info.Key,
			Size:    info.Size,
			Updated: info.LastModified,
			Version: info.ETag,
		})
	}
	return out, nil
}

// Download implements Store.
func (m *MinioStore) Download(ctx context.Context, obj Object) ([]byte, error) {
	o, err := m.client.GetObject(ctx, obj.Bucket, obj.Name, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.translate(obj, err)
	}
	defer o.Close()

	data, err := io.ReadAll(o)
	if err != nil {
		return nil, m.translate(obj, err)
	}
	return data, nil
}

// Delete implements Store.
func (m *MinioStore) Delete(ctx context.Context, obj Object) error {
	err := m.client.RemoveObject(ctx, obj.Bucket, obj.Name, minio.RemoveObjectOptions{})
	if err != nil {
		return m.translate(obj, err)
	}
	return nil
}

// Close implements Store.
func (m *MinioStore) Close() error {
	return nil
}

func (m *MinioStore) translate(obj Object, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", obj.Name, ErrObjectNotFound)
	}
	return err
}
