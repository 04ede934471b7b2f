package storage

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
)

// S3Store reads objects from Amazon S3.
type S3Store struct {
	client     *s3.Client
	downloader *manager.Downloader
}

// NewS3 creates an S3 client from static keys when given, otherwise from
// the default AWS credential chain.
func NewS3(ctx context.Context, auth config.StorageAuth) (*S3Store, error) {
	region := auth.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if auth.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(auth.AccessKeyID, auth.SecretAccessKey, auth.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.Concurrency = 4
		}),
	}, nil
}

// List implements Store.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	var out []Object
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, o := range page.Contents {
			out = append(out, Object{
				Bucket:  bucket,
				Name:    aws.ToString(o.Key),
				Size:    aws.ToInt64(o.Size),
				Updated: aws.ToTime(o.LastModified),
				Version: aws.ToString(o.ETag),
			})
		}
	}
	return out, nil
}

// Download implements Store using the concurrent range downloader.
func (s *S3Store) Download(ctx context.Context, obj Object) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(make([]byte, 0, obj.Size))
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Name),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var notFound *types.NotFound
		if stderrors.As(err, &noKey) || stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", obj.Name, ErrObjectNotFound)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// Delete implements Store. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, obj Object) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Name),
	})
	return err
}

// Close implements Store.
func (s *S3Store) Close() error {
	return nil
}
