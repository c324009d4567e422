package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sicko7947/replayflow"
)

// MinioStore uploads artifacts to an S3-compatible bucket
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioClient builds a client from configuration
func NewMinioClient(cfg replayflow.MinIOConfig) (*minio.Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials are required")
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// NewMinioStore creates the store, making the bucket when it is missing
func NewMinioStore(ctx context.Context, client *minio.Client, cfg replayflow.MinIOConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure artifacts bucket: %w", err)
	}
	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put uploads data and returns "<bucket>/<key>"
func (s *MinioStore) Put(ctx context.Context, runID, name string, data []byte) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	key := ObjectKey(s.prefix, runID, clean)

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(clean),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", key, err)
	}
	return s.bucket + "/" + key, nil
}

// ObjectKey joins the optional prefix, run id and name
func ObjectKey(prefix, runID, name string) string {
	if prefix == "" {
		return path.Join(runID, name)
	}
	return path.Join(prefix, runID, name)
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
