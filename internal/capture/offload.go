// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

// OffloadConfig configures the S3-compatible evidence offload target.
type OffloadConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// PresignExpiry bounds presigned evidence URLs. 0 defaults to 1h.
	PresignExpiry time.Duration
}

// Offloader copies evidence files to object storage under
// pipelines/<id>/frames/<name>.
type Offloader struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewOffloader validates connectivity and ensures the bucket exists,
// creating it when missing.
func NewOffloader(ctx context.Context, cfg OffloadConfig) (*Offloader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("offload: endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("offload: credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("offload: bucket is required")
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("offload: create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("offload: check bucket: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("offload: create bucket: %w", err)
		}
	}

	return &Offloader{client: cli, bucket: cfg.Bucket, expiry: cfg.PresignExpiry}, nil
}

// ObjectKey returns the storage key for an evidence file of a pipeline.
func ObjectKey(pipelineID, filename string) string {
	return path.Join("pipelines", pipelineID, "frames", filename)
}

// Upload copies one local evidence file to the bucket and returns its key.
func (o *Offloader) Upload(ctx context.Context, pipelineID, localPath string) (string, error) {
	f, err := os.Open(localPath) // #nosec G304 -- paths come from the confined saver
	if err != nil {
		metrics.IncOffload("error")
		return "", fmt.Errorf("offload: open %s: %w", localPath, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		metrics.IncOffload("error")
		return "", fmt.Errorf("offload: stat %s: %w", localPath, err)
	}

	key := ObjectKey(pipelineID, filepath.Base(localPath))
	contentType := "application/json"
	if filepath.Ext(localPath) == ".jpeg" {
		contentType = "image/jpeg"
	}

	_, err = o.client.PutObject(ctx, o.bucket, key, f, st.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		metrics.IncOffload("error")
		return "", fmt.Errorf("offload: put %s: %w", key, err)
	}
	metrics.IncOffload("ok")
	return key, nil
}

// UploadArtifacts offloads every file of one capture and returns the keys.
func (o *Offloader) UploadArtifacts(ctx context.Context, pipelineID string, art Artifacts) ([]string, error) {
	var keys []string
	for _, p := range []string{art.FramePath, art.AnnotatedPath, art.EventPath} {
		if p == "" {
			continue
		}
		key, err := o.Upload(ctx, pipelineID, p)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	logger := log.WithComponent("capture")
	logger.Debug().
		Str(log.FieldPipelineID, pipelineID).
		Int("objects", len(keys)).
		Msg("evidence offloaded")
	return keys, nil
}

// PresignGet returns a time-limited download URL for an evidence object.
func (o *Offloader) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := o.client.PresignedGetObject(ctx, o.bucket, key, o.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("offload: presign %s: %w", key, err)
	}
	return u.String(), nil
}
