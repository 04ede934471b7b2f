package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	gcs "cloud.google.com/go/storage"
	gojson "github.com/goccy/go-json"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
)

// GCSStore reads objects from Google Cloud Storage.
type GCSStore struct {
	client *gcs.Client
}

// NewGCS creates a GCS client. Explicit service account fields take
// precedence over a credentials file; with neither, Application Default
// Credentials are used.
func NewGCS(ctx context.Context, auth config.StorageAuth) (*GCSStore, error) {
	var opts []option.ClientOption

	switch {
	case auth.HasServiceAccount():
		raw, err := serviceAccountJSON(auth)
		if err != nil {
			return nil, err
		}
		creds, err := google.CredentialsFromJSON(ctx, raw, gcs.ScopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("invalid service account: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	case auth.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(auth.CredentialsFile))
	}
	if auth.Endpoint != "" {
		// emulators such as fake-gcs-server
		opts = append(opts, option.WithEndpoint(auth.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: client}, nil
}

func serviceAccountJSON(auth config.StorageAuth) ([]byte, error) {
	return gojson.Marshal(map[string]string{
		"type":         "service_account",
		"project_id":   auth.ProjectID,
		"client_email": auth.ClientEmail,
		// keys pasted into env vars usually carry escaped newlines
		"private_key": strings.ReplaceAll(auth.PrivateKey, `\n`, "\n"),
		"token_uri":   "https://oauth2.googleapis.com/token",
	})
}

// List implements Store.
func (s *GCSStore) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var out []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Object{
			Bucket:  bucket,
			Name:    attrs.Name,
			Size:    attrs.Size,
			Updated: attrs.Updated,
			Version: strconv.FormatInt(attrs.Generation, 10),
		})
	}
	return out, nil
}

// Download implements Store. Objects stored with Content-Encoding gzip are
// decompressed by the client.
func (s *GCSStore) Download(ctx context.Context, obj Object) ([]byte, error) {
	r, err := s.client.Bucket(obj.Bucket).Object(obj.Name).NewReader(ctx)
	if err != nil {
		if stderrors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", obj.Name, ErrObjectNotFound)
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Delete implements Store.
func (s *GCSStore) Delete(ctx context.Context, obj Object) error {
	err := s.client.Bucket(obj.Bucket).Object(obj.Name).Delete(ctx)
	if stderrors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", obj.Name, ErrObjectNotFound)
	}
	return err
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
