package staging

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures a MinioStager.
type MinioConfig struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	Bucket          string
	Prefix          string
}

// MinioStager stages files in a MinIO/S3 bucket.
type MinioStager struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinioStager creates a MinIO-backed stager from config.
func NewMinioStager(cfg MinioConfig) (*MinioStager, error) {
	if cfg.EndpointURL == "" {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("endpoint is required"))
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, wrapError(CodeAuthInvalid, false, fmt.Errorf("credentials are required"))
	}
	if cfg.Bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket is required"))
	}

	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("invalid endpoint URL: %w", err))
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.EndpointURL
	}
	useSSL := cfg.UseSSL || u.Scheme == "https"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("create minio client: %w", err))
	}
	return &MinioStager{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the staging bucket when missing.
func (s *MinioStager) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return classifyMinioError(err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

// Upload puts a file, or each slice of a directory, under a fresh prefix.
func (s *MinioStager) Upload(ctx context.Context, localPath string) (Ref, error) {
	files, sliced, err := sourceFiles(localPath)
	if err != nil {
		return Ref{}, err
	}

	name := filepath.Base(localPath)
	ref := Ref{
		Provider: ProviderS3,
		Bucket:   s.cfg.Bucket,
		Key:      objectKey(s.cfg.Prefix, name),
		Name:     name,
		Sliced:   sliced,
	}
	for _, f := range files {
		key := ref.Key
		if sliced {
			key = path.Join(ref.Key, filepath.Base(f))
			ref.Parts = append(ref.Parts, key)
		}
		n, err := s.putFile(ctx, f, key)
		if err != nil {
			return Ref{}, err
		}
		ref.Size += n
	}
	return ref, nil
}

func (s *MinioStager) putFile(ctx context.Context, localPath, key string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, wrapError(CodeSourceUnreadable, false, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, wrapError(CodeSourceUnreadable, false, err)
	}

	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, classifyMinioError(err)
	}
	return info.Size(), nil
}

// Download writes the referenced object to dst, or every slice into the dst
// directory.
func (s *MinioStager) Download(ctx context.Context, ref Ref, dst string) error {
	bucket := ref.Bucket
	if bucket == "" {
		bucket = s.cfg.Bucket
	}
	if !ref.Sliced {
		return s.getFile(ctx, bucket, ref.Key, dst)
	}
	parts := ref.Parts
	if len(parts) == 0 {
		keys, err := s.list(ctx, bucket, strings.TrimSuffix(ref.Key, "/")+"/")
		if err != nil {
			return err
		}
		parts = keys
	}
	for _, key := range parts {
		if err := s.getFile(ctx, bucket, key, filepath.Join(dst, path.Base(key))); err != nil {
			return err
		}
	}
	return nil
}

func (s *MinioStager) getFile(ctx context.Context, bucket, key, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	if err := s.client.FGetObject(ctx, bucket, key, dst, minio.GetObjectOptions{}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

// IsDirectory reports whether any object lives below key + "/".
func (s *MinioStager) IsDirectory(ctx context.Context, key string) (bool, error) {
	prefix := strings.TrimSuffix(sanitizeKey(key), "/") + "/"
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, MaxKeys: 1}) {
		if obj.Err != nil {
			return false, classifyMinioError(obj.Err)
		}
		return true, nil
	}
	return false, nil
}

func (s *MinioStager) list(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyMinioError(obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// classifyMinioError converts minio-go errors to the coded Error.
func classifyMinioError(err error) *Error {
	if err == nil {
		return nil
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchBucket":
			return wrapError(CodeBucketNotFound, false, err)
		case "NoSuchKey":
			return wrapError(CodeObjectNotFound, false, err)
		case "AccessDenied":
			return wrapError(CodePermissionDenied, false, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return wrapError(CodeAuthInvalid, false, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return wrapError(CodeTimeout, true, err)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return wrapError(CodeEndpointUnreachable, true, err)
	}
	return wrapError(CodeStagingWriteFailed, true, err)
}
