package transfer

import (
	"context"
	"net/url"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// S3Client uploads to an S3-compatible object store. Objects are keyed
// <prefix>/<collection>/<file name>; the bucket is created when missing.
type S3Client struct {
	client *minio.Client
	cfg    config.S3Config
	prefix string
	logger *zap.SugaredLogger
}

// NewS3 creates an object store client. The endpoint may be a bare host:port
// or a URL; an https URL forces TLS.
func NewS3(cfg config.S3Config, prefix string, log *zap.SugaredLogger) (*S3Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.NewInvalidRequestError("s3 endpoint and bucket are required")
	}

	endpoint, useSSL := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create s3 client for %s", cfg.Endpoint)
	}

	return &S3Client{client: client, cfg: cfg, prefix: prefix, logger: log}, nil
}

// Target returns s3://bucket/prefix/collection.
func (c *S3Client) Target(collection string) string {
	return "s3://" + path.Join(c.cfg.Bucket, RemoteDir(c.prefix, collection))
}

// Upload implements Client.
func (c *S3Client) Upload(ctx context.Context, files []string, collection string) ([]string, error) {
	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}

	dir := RemoteDir(c.prefix, collection)
	uploaded := make([]string, 0, len(files))
	for _, local := range files {
		key := path.Join(dir, filepath.Base(local))
		if _, err := c.client.FPutObject(ctx, c.cfg.Bucket, key, local, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		}); err != nil {
			return nil, errors.Wrapf(err, "failed to upload %s to %s", local, key)
		}
		c.logger.Debugw("Uploaded object", logger.FieldFile, local, logger.FieldRemote, key)
		uploaded = append(uploaded, local)
	}
	return uploaded, nil
}

func (c *S3Client) ensureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return errors.WithHint(
			errors.Wrapf(err, "failed to check bucket %s", c.cfg.Bucket),
			"check settings.s3.endpoint and credentials")
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{Region: c.cfg.Region}); err != nil {
		return errors.Wrapf(err, "failed to create bucket %s", c.cfg.Bucket)
	}
	return nil
}
