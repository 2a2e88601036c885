// Package s3 is a payload storage backend for S3-compatible object
// stores, built on the MinIO client.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nandoflorestan/keepluggable/internal/action"
	"github.com/nandoflorestan/keepluggable/internal/config"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
	"github.com/nandoflorestan/keepluggable/internal/storage"
)

// deleteBatchMax is the largest batch the S3 DeleteObjects API accepts;
// larger batches are chunked.
const deleteBatchMax = 1000

type Storage struct {
	client *minio.Client
	bucket string
}

var _ action.PayloadStorage = (*Storage)(nil)

// New connects and ensures the configured bucket exists.
func New(ctx context.Context, cfg config.S3) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(namespace string, md *domain.FileMetadata) string {
	return namespace + "/" + storage.ObjectName(md)
}

func (s *Storage) Put(ctx context.Context, namespace string, md *domain.FileMetadata, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(namespace, md), r, md.Length,
		minio.PutObjectOptions{ContentType: md.MimeType})
	if err != nil {
		return fmt.Errorf("putting object %s: %w", objectKey(namespace, md), err)
	}
	return nil
}

func (s *Storage) Reader(ctx context.Context, namespace string, md *domain.FileMetadata) (io.ReadCloser, error) {
	key := objectKey(namespace, md)
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", key, err)
	}
	// GetObject is lazy; Stat surfaces missing keys now instead of at
	// first read.
	if _, err := object.Stat(); err != nil {
		object.Close()
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("payload %s/%s: %w",
				namespace, md.Fingerprint, internal_errors.ErrNotFound)
		}
		return nil, fmt.Errorf("statting object %s: %w", key, err)
	}
	return object, nil
}

// URL returns a presigned, time-limited GET link. The scheme follows
// the client's Secure option; the secure flag cannot override it per
// request.
func (s *Storage) URL(ctx context.Context, namespace string, md *domain.FileMetadata, expiry time.Duration, secure bool) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey(namespace, md), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presigning object %s: %w", objectKey(namespace, md), err)
	}
	return u.String(), nil
}

func (s *Storage) Delete(ctx context.Context, namespace string, mds []*domain.FileMetadata) error {
	for start := 0; start < len(mds); start += deleteBatchMax {
		end := start + deleteBatchMax
		if end > len(mds) {
			end = len(mds)
		}
		if err := s.deleteBatch(ctx, namespace, mds[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) deleteBatch(ctx context.Context, namespace string, mds []*domain.FileMetadata) error {
	objects := make(chan minio.ObjectInfo, len(mds))
	for _, md := range mds {
		objects <- minio.ObjectInfo{Key: objectKey(namespace, md)}
	}
	close(objects)

	for result := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("deleting object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}
