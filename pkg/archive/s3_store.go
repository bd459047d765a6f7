package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is a Store backed by an S3-compatible bucket, with content
// keyed by its SHA-256 hash the same way FileStore keys its blob files.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig configures an S3Store. Endpoint is set for a
// MinIO/LocalStack-compatible non-AWS endpoint.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3Store builds an S3-backed store from cfg, loading AWS credentials
// from the default provider chain.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(rawHash string) string {
	return s.prefix + rawHash + ".blob"
}

func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	hashStr := contentHash(data)
	key := s.key(hashStr)

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err == nil {
		return "sha256:" + hashStr, nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put: %w", err)
	}
	return "sha256:" + hashStr, nil
}

func (s *S3Store) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := rawHex(hash)
	if err != nil {
		return nil, err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))})
	if err != nil {
		return nil, fmt.Errorf("archive: s3 get %s: %w", hash, err)
	}
	defer result.Body.Close()
	return io.ReadAll(result.Body)
}

func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := rawHex(hash)
	if err != nil {
		return false, err
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))}); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, hash string) error {
	rawHash, err := rawHex(hash)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))}); err != nil {
		return fmt.Errorf("archive: s3 delete %s: %w", hash, err)
	}
	return nil
}
