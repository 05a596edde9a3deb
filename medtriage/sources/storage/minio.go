package storage

import (
	"context"
	"crypto/md5" // For simple URL hashing
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"medtriage/medtriage/config"
	httputils "medtriage/medtriage/utils/http"
)

// ImageStore archives user-submitted images so clinicians can review what
// the workflow actually analyzed. Archiving is best-effort; triage never
// waits on it succeeding.
type ImageStore struct {
	client *minio.Client
	bucket string
}

func NewImageStore(cfg config.Config) (*ImageStore, error) {
	bucket := cfg.MinIOBucket
	client, err := minio.New(
		cfg.MinIOEndpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
			Secure: false,
		},
	)
	if err != nil {
		return nil, err
	}
	// Create bucket if not exists
	exists, err := client.BucketExists(context.Background(), bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(context.Background(), bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &ImageStore{client: client, bucket: bucket}, nil
}

// ArchiveFromURL pulls the image at imageURL and stores it under the
// session's prefix. Returns the object key.
func (s *ImageStore) ArchiveFromURL(ctx context.Context, sessionID, imageURL string) (string, error) {
	body, size, contentType, err := httputils.GetStream(ctx, imageURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	// Hash URL for key (avoid special chars)
	hash := fmt.Sprintf("%x", md5.Sum([]byte(imageURL)))
	key := filepath.Join("sessions", sessionID, hash)

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}
	return key, nil
}
