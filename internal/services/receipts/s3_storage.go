package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
)

const defaultLinkTTL = 15 * time.Minute

var (
	ErrValidation      = errors.New("validation error")
	ErrReceiptNotFound = errors.New("receipt not found")
)

type S3Storage struct {
	client *minio.Client
	bucket string

	ensureOnce sync.Once
	ensureErr  error
}

func NewS3Storage(client *minio.Client, bucket string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: strings.TrimSpace(bucket),
	}
}

func ObjectKey(orderID string) string {
	return "receipts/" + strings.TrimSpace(orderID) + ".json"
}

func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if s.bucket == "" {
		return fmt.Errorf("s3 bucket is empty")
	}

	s.ensureOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.ensureErr = err
			return
		}
		if exists {
			return
		}
		s.ensureErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	})

	if s.ensureErr != nil {
		return fmt.Errorf("ensure s3 bucket %q: %w", s.bucket, s.ensureErr)
	}

	return nil
}

func (s *S3Storage) PutReceipt(ctx context.Context, orderID string, receipt any) error {
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if strings.TrimSpace(orderID) == "" || receipt == nil {
		return ErrValidation
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, ObjectKey(orderID), bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put receipt to s3: %w", err)
	}

	return nil
}

func (s *S3Storage) PresignReceipt(ctx context.Context, orderID string, ttl time.Duration) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("s3 client is nil")
	}
	if strings.TrimSpace(orderID) == "" {
		return "", ErrValidation
	}
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}

	key := ObjectKey(orderID)
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", ErrReceiptNotFound
		}
		return "", fmt.Errorf("stat receipt: %w", err)
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}

	return presigned.String(), nil
}
