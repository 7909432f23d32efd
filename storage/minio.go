package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/logger"

	"github.com/avast/retry-go"
	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
)

const defaultAttempts = 3

// ObjectInfo is the subset of object attributes the pipeline reads.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	UserMetadata map[string]string
}

// Meta returns a user metadata value, matching the name case-insensitively
// and ignoring an "x-amz-meta-" prefix.
func (o ObjectInfo) Meta(name string) string {
	for k, v := range o.UserMetadata {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == strings.ToLower(name) {
			return v
		}
	}
	return ""
}

// MinioStore wraps a MinIO/S3 client bound to a single bucket.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	region   string
	attempts uint
	backoff  time.Duration
}

// NewMinioStore 创建 MinIO 客户端
func NewMinioStore(cfg *config.Config) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return &MinioStore{
		client:   client,
		bucket:   cfg.MinioBucket,
		region:   cfg.MinioRegion,
		attempts: defaultAttempts,
		backoff:  200 * time.Millisecond,
	}, nil
}

// Bucket returns the bound bucket name.
func (s *MinioStore) Bucket() string { return s.bucket }

// Client exposes the underlying client for bucket-level tooling.
func (s *MinioStore) Client() *minio.Client { return s.client }

// EnsureBucket checks the bucket and creates it when missing.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		logger.Info("bucket ready", logger.String("bucket", s.bucket))
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("bucket created", logger.String("bucket", s.bucket))
	return nil
}

// isNotFound reports a missing object or bucket.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound
}

// do runs op with backoff; missing objects and cancelled contexts are not retried.
func (s *MinioStore) do(ctx context.Context, op, key string, fn func() error) error {
	err := retry.Do(
		func() error {
			err := fn()
			if err == nil {
				return nil
			}
			if isNotFound(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("object store call failed, retrying",
				logger.String("op", op),
				logger.String("key", key),
				logger.Int("attempt", int(n)+1),
				logger.ErrorField(err))
		}),
	)
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return apperr.NotFound("object", key)
	}
	return apperr.TransientIO(op+" "+key, err)
}

// Fetch downloads key into localPath.
func (s *MinioStore) Fetch(ctx context.Context, key, localPath string) error {
	return s.do(ctx, "fetch", key, func() error {
		return s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{})
	})
}

// ReadAll returns the object body.
func (s *MinioStore) ReadAll(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.do(ctx, "read", key, func() error {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()
		body, err = io.ReadAll(obj)
		return err
	})
	return body, err
}

// PutFile uploads a local file.
func (s *MinioStore) PutFile(ctx context.Context, key, localPath, contentType string, meta map[string]string) error {
	return s.do(ctx, "put", key, func() error {
		info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: meta,
		})
		if err == nil {
			logger.Debug("object uploaded", logger.String("key", key), logger.String("size", humanize.IBytes(uint64(info.Size))))
		}
		return err
	})
}

// PutBytes uploads an in-memory payload.
func (s *MinioStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return s.do(ctx, "put", key, func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		return err
	})
}

// PutStream uploads a reader of known size. Streams cannot be replayed, so
// this is a single attempt.
func (s *MinioStore) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string, meta map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return apperr.TransientIO("put "+key, err)
	}
	return nil
}

// Stat returns object attributes including user metadata.
func (s *MinioStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var out ObjectInfo
	err := s.do(ctx, "stat", key, func() error {
		info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			return err
		}
		out = ObjectInfo{
			Key:          info.Key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
			UserMetadata: info.UserMetadata,
		}
		return nil
	})
	return out, err
}

// Remove deletes key; a missing key is not an error.
func (s *MinioStore) Remove(ctx context.Context, key string) error {
	err := s.do(ctx, "remove", key, func() error {
		return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

// PresignGet returns a time-limited download URL. No network call is made
// when the client has a region configured.
func (s *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return u.String(), nil
}

// PresignPut returns a time-limited upload URL. headers are signed into
// the URL, so the uploader has to send them unchanged.
func (s *MinioStore) PresignPut(ctx context.Context, key string, expiry time.Duration, headers map[string]string) (string, error) {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	u, err := s.client.PresignHeader(ctx, http.MethodPut, s.bucket, key, expiry, url.Values{}, h)
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", key, err)
	}
	return u.String(), nil
}

// ListenCreated subscribes to object-created notifications on the bucket.
func (s *MinioStore) ListenCreated(ctx context.Context, prefix, suffix string) <-chan notification.Info {
	return s.client.ListenBucketNotification(ctx, s.bucket, prefix, suffix, []string{
		string(notification.ObjectCreatedAll),
	})
}
