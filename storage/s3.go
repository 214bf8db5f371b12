package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"rfp_scout/config"
)

// S3Uploader writes run archives to an S3-compatible bucket.
type S3Uploader struct {
	client *s3.Client
	cfg    config.S3Config
}

// NewS3Uploader builds a client from cfg. Static keys are used when both are
// set; otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg config.S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{client: client, cfg: cfg}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// ObjectURL is the browser-facing location of key.
func (u *S3Uploader) ObjectURL(key string) string {
	if u.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(u.cfg.Endpoint, "/"), u.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
}
