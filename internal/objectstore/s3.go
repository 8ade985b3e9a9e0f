package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/matchbot/reconcile/internal/domain"
)

// S3Store talks to S3 or any S3-compatible endpoint (MinIO). Reads use Range
// requests so the extractor never pulls a whole object at once.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

type S3Options struct {
	Bucket   string
	Region   string
	// Endpoint overrides the AWS endpoint for MinIO or localstack; path
	// style addressing is enabled when set.
	Endpoint string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
	}, nil
}

func (s *S3Store) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*domain.PresignedUpload, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}

	req, err := s.presign.PresignPutObject(ctx, input, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &domain.PresignedUpload{
		URL: req.URL,
		Headers: map[string]string{
			"Content-Type": contentType,
		},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *S3Store) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	return data, nil
}

func (s *S3Store) Size(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: head %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}
