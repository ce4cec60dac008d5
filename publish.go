package catset

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Publisher uploads a curated dataset somewhere the trainer can reach.
type Publisher interface {
	Publish(ctx context.Context, localDir, prefix string) (int, error)
	PublishFile(ctx context.Context, localPath, key string) error
}

// MinioOptions configures an S3-compatible bucket.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioPublisher uploads files to an S3-compatible bucket.
type MinioPublisher struct {
	api    *minio.Client
	bucket string
	region string
}

var _ Publisher = (*MinioPublisher)(nil)

// NewMinioPublisher creates the client; no request is made until Publish.
func NewMinioPublisher(opts MinioOptions) (*MinioPublisher, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 endpoint and bucket are required", ErrMissingCredentials)
	}
	api, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioPublisher{api: api, bucket: opts.Bucket, region: opts.Region}, nil
}

func (p *MinioPublisher) ensureBucket(ctx context.Context) error {
	ok, err := p.api.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if ok {
		return nil
	}
	if err := p.api.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", p.bucket, err)
	}
	return nil
}

// PublishFile uploads a single file under key.
func (p *MinioPublisher) PublishFile(ctx context.Context, localPath, key string) error {
	if err := p.ensureBucket(ctx); err != nil {
		return err
	}
	opts := minio.PutObjectOptions{ContentType: mime.TypeByExtension(filepath.Ext(localPath))}
	if _, err := p.api.FPutObject(ctx, p.bucket, key, localPath, opts); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Publish uploads every file under localDir as prefix/<relative path>,
// creating the bucket when missing. It returns the number of objects written.
func (p *MinioPublisher) Publish(ctx context.Context, localDir, prefix string) (int, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return 0, err
	}

	uploaded := 0
	err := filepath.WalkDir(localDir, func(file string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, file)
		if err != nil {
			return err
		}
		key := objectKey(prefix, rel)
		opts := minio.PutObjectOptions{ContentType: mime.TypeByExtension(filepath.Ext(file))}
		if _, err := p.api.FPutObject(ctx, p.bucket, key, file, opts); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		uploaded++
		return nil
	})
	slog.Info("catset: dataset published", "bucket", p.bucket, "prefix", prefix, "objects", uploaded)
	return uploaded, err
}

// objectKey joins prefix and a local relative path with forward slashes.
func objectKey(prefix, rel string) string {
	return path.Join(prefix, filepath.ToSlash(rel))
}

// PublishDataset uploads the split trees under prefix/<split>/ and the
// manifest as prefix/data/data.yaml, keeping the relative paths the manifest
// refers to valid inside the bucket.
func PublishDataset(ctx context.Context, pub Publisher, layout Layout, prefix string) (int, error) {
	total := 0
	for _, s := range Splits {
		n, err := pub.Publish(ctx, layout.SplitDir(s), objectKey(prefix, string(s)))
		total += n
		if err != nil {
			return total, err
		}
	}
	if err := pub.PublishFile(ctx, layout.ManifestPath(), objectKey(prefix, "data/data.yaml")); err != nil {
		return total, err
	}
	return total + 1, nil
}
