// Package storage implements the artifact store on an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"video-compiler-service/internal/config"
)

var tracer = otel.Tracer("video-compiler-service/internal/storage")

type MinioStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewMinioStore connects to the bucket, creating it when absent.
func NewMinioStore(ctx context.Context, cfg config.Storage) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, publicBaseURL: strings.TrimRight(base, "/")}, nil
}

// Upload writes r to path, replacing any existing object, and returns its public URL.
// A negative size streams the body as a multipart upload.
func (s *MinioStore) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "storage.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("storage.path", path), attribute.Int64("storage.size", size))

	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put object")
		return "", fmt.Errorf("put object %s: %w", path, err)
	}
	return s.PublicURL(path), nil
}

// Download streams the object at path into w and returns the bytes written.
func (s *MinioStore) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	ctx, span := tracer.Start(ctx, "storage.Download")
	defer span.End()
	span.SetAttributes(attribute.String("storage.path", path))

	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("get object %s: %w", path, err)
	}
	defer obj.Close()

	n, err := io.Copy(w, obj)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read object")
		return n, fmt.Errorf("read object %s: %w", path, err)
	}
	return n, nil
}

func (s *MinioStore) PublicURL(path string) string {
	return JoinURL(s.publicBaseURL, path)
}

// JoinURL appends an escaped object path to base.
func JoinURL(base, path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}
