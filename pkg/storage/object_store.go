package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore provides access to object storage for model blobs.
//
// Keys are hierarchical: {scope}/{id}/{filename}, where scope is a user ID
// or the staging scope "temp".
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	// PublicURL returns the stable URL clients use to fetch the object.
	PublicURL(key string) string
	// KeyForURL reverses PublicURL; ok=false when the URL does not belong
	// to this store.
	KeyForURL(url string) (string, bool)
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
// The bucket is expected to allow anonymous reads; uploaded model URLs are
// persisted on gift records and must not expire.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return &MinioStore{
		client:  client,
		bucket:  bucket,
		baseURL: fmt.Sprintf("%s://%s/%s/", scheme, endpoint, bucket),
	}, nil
}

// Put uploads an object.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PublicURL returns the anonymous-read URL for a key.
func (m *MinioStore) PublicURL(key string) string {
	return m.baseURL + key
}

// KeyForURL extracts the object key from a URL produced by PublicURL.
func (m *MinioStore) KeyForURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, m.baseURL)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
