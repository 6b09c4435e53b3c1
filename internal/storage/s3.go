// Copyright 2025 James Ross
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flyingrobots/reportgen/internal/config"
)

// s3Adapter serves both "object-store-cloud" and
// "object-store-local-compatible" modes: the latter is the former pointed at
// a custom endpoint with path-style addressing, e.g. a MinIO instance used
// for local development or integration tests.
type s3Adapter struct {
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
	mode     string
}

func newS3Adapter(cfg *config.Config) (Adapter, error) {
	ctx := context.Background()

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.Region),
	}
	if cfg.Storage.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = &cfg.Storage.Endpoint
		}
		o.UsePathStyle = cfg.Storage.UsePathStyle
	})

	return &s3Adapter{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Storage.Bucket,
		mode:     cfg.Storage.Mode,
	}, nil
}

func (a *s3Adapter) Mode() string { return a.mode }

func (a *s3Adapter) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        body,
		ContentType: &contentType,
	}
	// size<0 means the caller is streaming a generator of unknown length;
	// the multipart uploader buffers and sizes parts on its own in that
	// case, so ContentLength is only set when the caller already knows it.
	if size >= 0 {
		input.ContentLength = &size
	}
	_, err := a.uploader.Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("storage: upload %q: %w", key, err)
	}
	return nil
}

func (a *s3Adapter) SignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: presign %q: %w", key, err)
	}
	return req.URL, nil
}
