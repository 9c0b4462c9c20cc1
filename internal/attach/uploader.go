// Package attach provides S3-compatible upload of report photo attachments.
// When attachment storage is not configured (empty bucket), the NoopUploader
// is used and all uploads are skipped, keeping the system local-only.
package attach

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aegisfield/aegis/internal/config"
)

// ErrNotConfigured is returned when attachment storage is not configured.
var ErrNotConfigured = errors.New("attachment storage not configured")

// Uploader uploads report photo attachments.
type Uploader interface {
	// Upload stores the file at filePath under the given report's local id.
	// Returns ErrNotConfigured when storage is not configured.
	Upload(ctx context.Context, reportLocalID string, filePath string) error
}

// s3Client defines the minimal minio.Client surface used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, opts)
	return err
}

// S3Uploader uploads attachments to S3-compatible storage.
type S3Uploader struct {
	client s3Client
	bucket string
}

// Upload stores the attachment for the given report.
func (u *S3Uploader) Upload(ctx context.Context, reportLocalID string, filePath string) error {
	key := objectKey(reportLocalID, filePath)
	if err := u.client.FPutObject(ctx, u.bucket, key, filePath); err != nil {
		return fmt.Errorf("upload attachment: %w", err)
	}
	return nil
}

// NoopUploader is used when attachment storage is not configured.
type NoopUploader struct{}

// Upload returns ErrNotConfigured.
func (u *NoopUploader) Upload(ctx context.Context, reportLocalID string, filePath string) error {
	return ErrNotConfigured
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.AttachmentsConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
	}, nil
}

// objectKey returns the S3 object key for a report attachment.
// Convention: reports/{local_id}/{filename}
func objectKey(reportLocalID, filePath string) string {
	return "reports/" + reportLocalID + "/" + filepath.Base(filePath)
}
