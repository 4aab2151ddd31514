package fetcher

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
)

// S3Options configures the S3 fetcher. Any S3-compatible endpoint works.
type S3Options struct {
	Endpoint  string // default s3.amazonaws.com
	AccessKey string // empty: read AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY
	SecretKey string
	Secure    bool
}

// S3Fetcher downloads objects addressed as s3://bucket/key.
type S3Fetcher struct {
	client *minio.Client
}

// NewS3Fetcher creates an S3Fetcher.
func NewS3Fetcher(opts S3Options) (*S3Fetcher, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = "s3.amazonaws.com"
	}
	creds := credentials.NewEnvAWS()
	if opts.AccessKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{Creds: creds, Secure: opts.Secure})
	if err != nil {
		return nil, eris.Wrap(err, "s3: create client")
	}
	return &S3Fetcher{client: client}, nil
}

// parseS3URL splits s3://bucket/key into bucket and key.
func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse s3 url")
	}
	if u.Scheme != "s3" {
		return "", "", eris.Errorf("expected s3 scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", eris.New("empty bucket in s3 url")
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Download streams the object.
func (f *S3Fetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	obj, err := f.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "s3: get %s", rawURL)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "s3: stat %s", rawURL)
	}
	return obj, nil
}

// DownloadToFile writes the object to path.
func (f *S3Fetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck
	return writeFile(path, body)
}

// DownloadIfChanged compares the object's ETag before downloading.
func (f *S3Fetcher) DownloadIfChanged(ctx context.Context, rawURL string, etag string) (io.ReadCloser, string, bool, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, "", false, err
	}
	info, err := f.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, "", false, eris.Wrapf(err, "s3: stat %s", rawURL)
	}
	if etag != "" && info.ETag == etag {
		return nil, etag, false, nil
	}
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return nil, "", false, err
	}
	return body, info.ETag, true, nil
}

// List returns the object URLs directly below the s3://bucket/prefix directory.
func (f *S3Fetcher) List(ctx context.Context, dirURL string) ([]string, error) {
	bucket, prefix, err := parseS3URL(dirURL)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []string
	for obj := range f.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, eris.Wrapf(obj.Err, "s3: list %s", dirURL)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, "s3://"+path.Join(bucket, obj.Key))
	}
	return out, nil
}
