package store

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend stores the document as an object in an S3 bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Backend creates an object-store Backend using the default AWS
// credential chain.
func NewS3Backend(ctx context.Context, bucket, key string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return NewS3BackendWithClient(s3.NewFromConfig(cfg), bucket, key), nil
}

// NewS3BackendWithClient creates an S3 Backend on an existing client.
func NewS3BackendWithClient(client *s3.Client, bucket, key string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, key: key}
}

// Load fetches the document, creating it with an empty object if absent.
func (b *S3Backend) Load(ctx context.Context) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if goerrors.As(err, &noKey) {
			if err := b.Save(ctx, []byte(emptyDocument)); err != nil {
				return nil, err
			}
			return []byte(emptyDocument), nil
		}
		return nil, fmt.Errorf("failed to get pathway document from s3: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pathway document body: %w", err)
	}
	return data, nil
}

// Save replaces the document object.
func (b *S3Backend) Save(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put pathway document to s3: %w", err)
	}
	return nil
}

// LastModified returns the object modification time; a missing object reports
// the zero time.
func (b *S3Backend) LastModified(ctx context.Context) (time.Time, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if goerrors.As(err, &notFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to head pathway document on s3: %w", err)
	}
	if out.LastModified == nil {
		return time.Time{}, nil
	}
	return *out.LastModified, nil
}
