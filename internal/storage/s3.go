package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Config holds the connection settings for an S3-compatible bucket.
type S3Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
}

// S3Store persists blobs into an S3-compatible bucket with public-read
// objects.
type S3Store struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Store validates the configuration and builds the S3 client.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("s3 public base url is required")
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Store{cfg: cfg, client: s3.New(options)}, nil
}

func (s *S3Store) Put(ctx context.Context, data []byte, contentType, keyPrefix string) (Object, error) {
	if len(data) == 0 {
		return Object{}, fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key := s.generateKey(keyPrefix, contentType)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return Object{}, fmt.Errorf("upload to s3: %w", err)
	}
	return Object{Key: key, URL: s.URL(key)}, nil
}

func (s *S3Store) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch from s3: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}
	return data, nil
}

func (s *S3Store) URL(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
}

func (s *S3Store) generateKey(prefix, contentType string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "blobs"
	}
	now := time.Now().UTC()
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+extensionForMIME(contentType))
}

var _ BlobStore = (*S3Store)(nil)
