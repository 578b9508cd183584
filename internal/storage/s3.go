package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Storage wraps LocalStorage and adds S3 upload and folder download.
// It uses LocalStorage for temporary file operations and S3 for inputs and final storage.
type S3Storage struct {
	*LocalStorage
	client *s3.Client
	bucket string
	region string
}

var _ Storage = (*S3Storage)(nil)

// LoadAWSConfig builds an AWS config for the region, using static
// credentials when both keys are set and the default chain otherwise.
func LoadAWSConfig(ctx context.Context, region, accessKeyID, secretAccessKey string) (aws.Config, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(region))

	// Use static credentials if provided
	if accessKeyID != "" && secretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewS3Storage creates a new S3Storage instance.
// The tempDir parameter specifies where temporary files are stored.
// The cfg parameter contains S3 configuration.
func NewS3Storage(tempDir string, cfg S3Config) (*S3Storage, error) {
	local, err := NewLocalStorage(tempDir)
	if err != nil {
		return nil, err
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Storage{
		LocalStorage: local,
		client:       client,
		bucket:       cfg.Bucket,
		region:       cfg.Region,
	}, nil
}

// UploadToS3 uploads data to the configured bucket and returns the stored object.
func (s *S3Storage) UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (*Object, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("upload to S3: %w", err)
	}

	return &Object{
		Bucket: s.bucket,
		Key:    key,
		URL:    fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key),
	}, nil
}

// DownloadFolder downloads every object under folderURI into dir.
// Keys ending in "/" are folder markers and are skipped. Files are stored
// under their base name; a clashing name gets a numeric prefix.
func (s *S3Storage) DownloadFolder(ctx context.Context, folderURI, dir string) ([]string, error) {
	bucket, prefix, err := ParseS3URI(folderURI)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var paths []string
	seen := make(map[string]struct{})

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return paths, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}

			name := filepath.Base(key)
			if name == "." || name == ".." || name == string(filepath.Separator) {
				continue
			}
			name = uniqueName(seen, name, len(paths))

			local := filepath.Join(dir, name)
			if err := s.downloadObject(ctx, bucket, key, local); err != nil {
				return paths, err
			}
			paths = append(paths, local)
		}
	}

	return paths, nil
}

// uniqueName returns name, or name with a numeric prefix if it was already
// used, and records the result in seen.
func uniqueName(seen map[string]struct{}, name string, n int) string {
	candidate := name
	for {
		if _, dup := seen[candidate]; !dup {
			break
		}
		candidate = fmt.Sprintf("%d_%s", n, name)
		n++
	}
	seen[candidate] = struct{}{}
	return candidate
}

func (s *S3Storage) downloadObject(ctx context.Context, bucket, key, localPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	f, err := os.Create(localPath) // #nosec G304 - localPath is built from a scratch dir and a key base name
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}

	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(localPath)
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return nil
}
