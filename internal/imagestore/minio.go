package imagestore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tessera/api/internal/docstore"
)

// MinioStore keeps preview images in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the object store and makes sure the bucket exists.
func NewMinio(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

// SavePreviewImage decodes an embedded payload and uploads it under a path
// derived from the owning document.
func (s *MinioStore) SavePreviewImage(ctx context.Context, value string, kind docstore.Kind, ownerID string) (string, error) {
	p, err := decodeDataURL(value)
	if err != nil {
		return "", err
	}
	name := objectName(kind, ownerID, p.ext)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(p.data), int64(len(p.data)), minio.PutObjectOptions{
		ContentType: p.contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store preview %s: %w", name, err)
	}
	return name, nil
}
