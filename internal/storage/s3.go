// Package storage signs time-limited download URLs for pipeline artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/smallbiznis/accessflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("storage",
	fx.Provide(NewProvider),
)

var ErrEmptyKey = errors.New("empty_artifact_key")

// SignedURLProvider issues a time-limited URL granting read access to key.
type SignedURLProvider interface {
	SignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type S3Provider struct {
	bucket    string
	ttl       time.Duration
	presigner *s3.PresignClient
}

// NewProvider builds the S3 presigner. Without a configured bucket it returns
// a nil provider and artifacts are reported without URLs.
func NewProvider(cfg config.Config, log *zap.Logger) (SignedURLProvider, error) {
	art := cfg.Artifacts
	if strings.TrimSpace(art.Bucket) == "" {
		log.Info("artifact bucket not configured, signed urls disabled")
		return nil, nil
	}

	p, err := NewS3Provider(context.Background(), art)
	if err != nil {
		return nil, err
	}
	log.Info("artifact signer initialized",
		zap.String("bucket", art.Bucket),
		zap.String("region", art.Region),
	)
	return p, nil
}

func NewS3Provider(ctx context.Context, art config.ArtifactConfig) (*S3Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(art.Region),
	}
	if art.AccessKey != "" && art.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(art.AccessKey, art.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if art.Endpoint != "" {
			o.BaseEndpoint = aws.String(art.Endpoint)
		}
		o.UsePathStyle = art.UsePathStyle
	})

	ttl := art.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Provider{
		bucket:    art.Bucket,
		ttl:       ttl,
		presigner: s3.NewPresignClient(client),
	}, nil
}

// SignGet presigns a GET for key. A non-positive ttl uses the configured default.
func (p *S3Provider) SignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = p.ttl
	}

	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return req.URL, nil
}
