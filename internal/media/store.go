package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"feedsync/internal/model"
)

// ObjectPutter is the part of the S3 client the store needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Config locates a Cloudflare R2 (S3-compatible) bucket.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string

	// Endpoint overrides the account endpoint, e.g. for a local S3.
	Endpoint string
	Region   string
}

// Enabled reports whether enough is configured to stage images.
func (c R2Config) Enabled() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Bucket != "" && c.PublicURL != "" &&
		(c.AccountID != "" || c.Endpoint != "")
}

// S3Store uploads post images to a bucket and returns their public URL.
type S3Store struct {
	client     ObjectPutter
	bucket     string
	publicURL  string
	normalizer *Normalizer
}

// NewS3Store builds an S3 client for the configured bucket.
func NewS3Store(ctx context.Context, cfg R2Config, normalizer *Normalizer) (*S3Store, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("missing object storage configuration")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config for object storage: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return NewS3StoreWithClient(client, cfg.Bucket, cfg.PublicURL, normalizer), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client ObjectPutter, bucket, publicURL string, normalizer *Normalizer) *S3Store {
	if normalizer == nil {
		normalizer = NewNormalizer(0, 0)
	}
	return &S3Store{
		client:     client,
		bucket:     bucket,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
		normalizer: normalizer,
	}
}

// Stage normalizes the image and uploads it under posts/<uuid><ext>.
func (s *S3Store) Stage(ctx context.Context, data []byte, _ string) (*model.UploadResult, error) {
	img, err := s.normalizer.Prepare(data)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s%s", model.PostImageFolder, uuid.NewString(), Extension(img.ContentType))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(img.Data),
		ContentType:   aws.String(img.ContentType),
		ContentLength: aws.Int64(int64(len(img.Data))),
		CacheControl:  aws.String(model.ImageCacheControl),
	})
	if err != nil {
		return nil, fmt.Errorf("upload to object storage: %w", err)
	}

	return &model.UploadResult{URL: fmt.Sprintf("%s/%s", s.publicURL, key), Key: key}, nil
}
