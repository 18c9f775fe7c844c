// Package s3 provides an S3-backed blob.Storage for receipt images.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/billsplit/settle/blob"
)

// compile-time interface check
var _ blob.Storage = (*Storage)(nil)

// Storage stores receipt images in an S3 bucket, keyed by content hash.
type Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config holds configuration for the S3 storage.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix (e.g., "receipts/")
}

// New creates an S3-backed image store.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &Storage{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store uploads the image and returns an s3:// URL addressing it.
func (s *Storage) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	sum := sha256.Sum256(data)
	key := s.prefix + hex.EncodeToString(sum[:])

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Delete removes the object behind an s3:// URL previously returned by
// Store. S3 deletes are idempotent, so a missing object is not an error.
func (s *Storage) Delete(ctx context.Context, url string) error {
	key, err := s.keyFromURL(url)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

func (s *Storage) keyFromURL(url string) (string, error) {
	want := "s3://" + s.bucket + "/"
	if !strings.HasPrefix(url, want) {
		return "", fmt.Errorf("url %q does not address bucket %q", url, s.bucket)
	}
	return strings.TrimPrefix(url, want), nil
}
