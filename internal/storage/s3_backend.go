package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectPutter is the subset of the S3 client the backend needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3Backend.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PublicURL string
	AccessKey string
	SecretKey string
}

// S3Backend uploads blobs to an S3-compatible bucket.
type S3Backend struct {
	client    objectPutter
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Backend loads AWS configuration and builds an S3 client.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: s3 backend requires a bucket")
	}
	var loaders []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Backend(client, opts), nil
}

func newS3Backend(client objectPutter, opts S3Options) *S3Backend {
	public := strings.TrimRight(opts.PublicURL, "/")
	if public == "" {
		if opts.Endpoint != "" {
			public = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
		} else {
			region := opts.Region
			if region == "" {
				region = "us-east-1"
			}
			public = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, region)
		}
	}
	return &S3Backend{
		client:    client,
		bucket:    opts.Bucket,
		prefix:    strings.Trim(opts.Prefix, "/"),
		publicURL: public,
	}
}

// Name implements Backend.
func (b *S3Backend) Name() string { return "s3" }

// Owns implements Backend.
func (b *S3Backend) Owns(url string) bool {
	return strings.HasPrefix(url, b.publicURL+"/")
}

// Upload puts the object and returns its public URL.
func (b *S3Backend) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	fullKey := strings.TrimLeft(path.Join(b.prefix, key), "/")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: s3 put %s: %w", fullKey, err)
	}
	return b.publicURL + "/" + fullKey, nil
}
